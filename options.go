package zipentry

import (
	"io"
	"log/slog"
	"time"

	"golang.org/x/text/encoding"

	"github.com/meigma/zipentry/internal/file"
)

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	zip64           Zip64Policy
	level           int
	forceStore      bool
	skipCompression []SkipCompressionFunc
	retry           RetryFunc
	progress        ProgressFunc
	logger          *slog.Logger
	nameEncoding    encoding.Encoding
	location        *time.Location
	ntfsTimes       bool
	unixTimes       bool
	comment         string
	bufferSize      int
	rand            io.Reader
	now             func() time.Time
}

func defaultWriterConfig() writerConfig {
	return writerConfig{
		zip64:      Zip64AsNecessary,
		level:      file.DefaultCompression,
		ntfsTimes:  true,
		location:   time.Local,
		bufferSize: file.DefaultBufferSize,
		now:        time.Now,
	}
}

// WithZip64 sets the ZIP64 policy. The default is Zip64AsNecessary.
func WithZip64(policy Zip64Policy) WriterOption {
	return func(c *writerConfig) {
		c.zip64 = policy
	}
}

// WithCompressionLevel sets the Deflate level, from -2 (Huffman only) to 9.
func WithCompressionLevel(level int) WriterOption {
	return func(c *writerConfig) {
		c.level = level
	}
}

// WithCompression selects the compression method for new entries. Store
// disables compression entirely; Deflate (the default) compresses unless a
// skip predicate says otherwise.
func WithCompression(m Method) WriterOption {
	return func(c *writerConfig) {
		c.forceStore = m == Store
	}
}

// WithSkipCompression replaces the built-in extension heuristic with fns.
// An entry is stored uncompressed if any predicate returns true.
func WithSkipCompression(fns ...SkipCompressionFunc) WriterOption {
	return func(c *writerConfig) {
		c.skipCompression = append(c.skipCompression, fns...)
	}
}

// WithRetry installs a callback that approves or vetoes rewriting an entry
// as Store when Deflate did not make it smaller. Without a callback such
// entries are always rewritten on seekable output.
func WithRetry(fn RetryFunc) WriterOption {
	return func(c *writerConfig) {
		c.retry = fn
	}
}

// WithProgress sets a callback for per-chunk progress updates.
func WithProgress(fn ProgressFunc) WriterOption {
	return func(c *writerConfig) {
		c.progress = fn
	}
}

// WithLogger sets the logger for write operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(c *writerConfig) {
		c.logger = logger
	}
}

// WithNameEncoding stores non-ASCII names in enc when it can represent them,
// instead of flagged UTF-8.
func WithNameEncoding(enc encoding.Encoding) WriterOption {
	return func(c *writerConfig) {
		c.nameEncoding = enc
	}
}

// WithLocation sets the time zone MS-DOS timestamps are written in.
// The default is time.Local.
func WithLocation(loc *time.Location) WriterOption {
	return func(c *writerConfig) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithNTFSTimes controls the NTFS timestamp block. Enabled by default.
func WithNTFSTimes(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.ntfsTimes = enabled
	}
}

// WithUnixTimes controls the extended Unix timestamp block. Disabled by default.
func WithUnixTimes(enabled bool) WriterOption {
	return func(c *writerConfig) {
		c.unixTimes = enabled
	}
}

// WithComment sets the archive comment written by Close.
func WithComment(comment string) WriterOption {
	return func(c *writerConfig) {
		c.comment = comment
	}
}

// WithBufferSize sets the copy buffer size. The default is 32 KiB.
func WithBufferSize(n int) WriterOption {
	return func(c *writerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithRandom sets the randomness source for encryption headers and salts.
// The default is crypto/rand.
func WithRandom(r io.Reader) WriterOption {
	return func(c *writerConfig) {
		c.rand = r
	}
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	nameEncoding encoding.Encoding
	location     *time.Location
	logger       *slog.Logger
	progress     ProgressFunc
	bufferSize   int
}

func defaultReaderConfig() readerConfig {
	return readerConfig{
		location:   time.Local,
		bufferSize: file.DefaultBufferSize,
	}
}

// ReadWithNameEncoding sets the encoding for names stored without the UTF-8
// flag. The default is IBM code page 437.
func ReadWithNameEncoding(enc encoding.Encoding) ReaderOption {
	return func(c *readerConfig) {
		c.nameEncoding = enc
	}
}

// ReadWithLocation sets the time zone MS-DOS timestamps are interpreted in.
func ReadWithLocation(loc *time.Location) ReaderOption {
	return func(c *readerConfig) {
		if loc != nil {
			c.location = loc
		}
	}
}

// ReadWithLogger sets the logger for read operations.
func ReadWithLogger(logger *slog.Logger) ReaderOption {
	return func(c *readerConfig) {
		c.logger = logger
	}
}

// ReadWithProgress sets a callback receiving extraction progress.
func ReadWithProgress(fn ProgressFunc) ReaderOption {
	return func(c *readerConfig) {
		c.progress = fn
	}
}

// ReadWithBufferSize sets the chunk size used when scanning for data descriptors.
func ReadWithBufferSize(n int) ReaderOption {
	return func(c *readerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}
