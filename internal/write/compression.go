package write

import (
	"path"
	"strings"

	"github.com/meigma/zipentry/internal/ziptype"
)

// SkipCompressionFunc returns true when an entry should be stored
// uncompressed. It is called once per entry and should be inexpensive.
type SkipCompressionFunc func(name string) bool

// DefaultSkipCompression returns a SkipCompressionFunc that skips known
// already-compressed extensions.
func DefaultSkipCompression() SkipCompressionFunc {
	return func(name string) bool {
		ext := strings.ToLower(path.Ext(name))
		_, ok := defaultSkipCompressionExts[ext]
		return ok
	}
}

// ShouldSkip checks if any predicate returns true for the given name.
func ShouldSkip(name string, predicates []SkipCompressionFunc) bool {
	for _, fn := range predicates {
		if fn == nil {
			continue
		}
		if fn(name) {
			return true
		}
	}
	return false
}

// RetryFunc approves re-reading an entry whose compressed form did not
// shrink so it can be stored instead. It receives the entry name and both
// sizes from the first pass.
type RetryFunc func(name string, uncompressed, compressed uint64) bool

// MinRetrySize is the smallest input for which a Store retry is considered.
// Tiny inputs always inflate under Deflate and are not worth a second pass.
const MinRetrySize = 10

// RetryInput is what ShouldRetry looks at after the first pass.
type RetryInput struct {
	Name         string
	Cycle        int
	Seekable     bool
	Method       ziptype.Method
	Uncompressed uint64
	Compressed   uint64
	Approve      RetryFunc
}

// ShouldRetry reports whether the entry should be rewritten as Store.
func ShouldRetry(in RetryInput) bool {
	if in.Cycle != 1 || !in.Seekable || in.Method == ziptype.Store {
		return false
	}
	if in.Compressed < in.Uncompressed || in.Uncompressed < MinRetrySize {
		return false
	}
	if in.Approve != nil {
		return in.Approve(in.Name, in.Uncompressed, in.Compressed)
	}
	return true
}

var defaultSkipCompressionExts = map[string]struct{}{
	".7z":    {},
	".aac":   {},
	".apk":   {},
	".avif":  {},
	".br":    {},
	".bz2":   {},
	".cab":   {},
	".docx":  {},
	".epub":  {},
	".flac":  {},
	".gif":   {},
	".gz":    {},
	".heic":  {},
	".jar":   {},
	".jpeg":  {},
	".jpg":   {},
	".m4a":   {},
	".m4v":   {},
	".mkv":   {},
	".mov":   {},
	".mp3":   {},
	".mp4":   {},
	".odp":   {},
	".ods":   {},
	".odt":   {},
	".ogg":   {},
	".opus":  {},
	".png":   {},
	".pptx":  {},
	".rar":   {},
	".tgz":   {},
	".webm":  {},
	".webp":  {},
	".woff":  {},
	".woff2": {},
	".xlsx":  {},
	".xz":    {},
	".zip":   {},
	".zipx":  {},
	".zst":   {},
}
