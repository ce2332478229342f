package extract

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	tempPattern = ".zipentry-*"
	dirPerm     = 0o750
)

// FileSink writes entries below a destination directory.
//
// Files are written to a temporary file in the same directory, then renamed
// to the final path on Commit, so partially written or corrupt content is
// never visible at the final path. All paths are resolved through an
// os.Root, so entry names cannot escape the destination.
type FileSink struct {
	root          *os.Root
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode applies the Unix permission bits recorded in the entry's
// external attributes. Entries without Unix attributes keep umask defaults.
func WithPreserveMode(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes applies the entry's modification time.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// NewFileSink creates a FileSink that writes to destDir, creating it if
// needed. Call Close when done.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	if err := os.MkdirAll(destDir, dirPerm); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	s := &FileSink{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the destination directory handle.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ShouldProcess returns false for names that are not local relative paths,
// and for existing files when overwrite is disabled.
func (s *FileSink) ShouldProcess(entry *Entry) bool {
	name, ok := localPath(entry.Name)
	if !ok {
		return false
	}
	if s.overwrite || entry.IsDir() {
		return true
	}
	_, err := s.root.Stat(name)
	return errors.Is(err, fs.ErrNotExist)
}

// Directory creates the directory named by entry.
func (s *FileSink) Directory(entry *Entry) error {
	name, ok := localPath(entry.Name)
	if !ok {
		return fmt.Errorf("invalid path %q", entry.Name)
	}
	if err := s.root.MkdirAll(name, dirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", name, err)
	}
	if perm, ok := unixPerm(entry); ok && s.preserveMode {
		if err := s.root.Chmod(name, perm|0o700); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	return nil
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry *Entry) (Committer, error) {
	name, ok := localPath(entry.Name)
	if !ok {
		return nil, fmt.Errorf("invalid path %q", entry.Name)
	}
	dir := path.Dir(name)
	if dir != "." {
		if err := s.root.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	tmp, tmpPath, err := createTemp(s.root, dir)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		entry:   entry,
		path:    name,
		tmp:     tmp,
		tmpPath: tmpPath,
		sink:    s,
	}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	entry   *Entry
	path    string
	tmp     *os.File
	tmpPath string
	sink    *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tmp.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	root := c.sink.root
	if err := c.tmp.Close(); err != nil {
		_ = root.Remove(c.tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if perm, ok := unixPerm(c.entry); ok && c.sink.preserveMode {
		if err := root.Chmod(c.tmpPath, perm); err != nil {
			_ = root.Remove(c.tmpPath) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if c.sink.preserveTimes {
		mtime := c.entry.ModTime()
		if err := root.Chtimes(c.tmpPath, mtime, mtime); err != nil {
			_ = root.Remove(c.tmpPath) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	if err := root.Rename(c.tmpPath, c.path); err != nil {
		_ = root.Remove(c.tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.path, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tmp.Close() //nolint:errcheck // we're cleaning up
	return c.sink.root.Remove(c.tmpPath)
}

// localPath converts an entry name to a slash-separated path relative to the
// destination. Absolute names, backslashes and ".." elements are rejected.
func localPath(name string) (string, bool) {
	name = strings.TrimSuffix(name, "/")
	if name == "" || strings.Contains(name, `\`) || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

func unixPerm(e *Entry) (os.FileMode, bool) {
	mode := e.ExternalAttrs >> 16
	if mode == 0 {
		return 0, false
	}
	return os.FileMode(mode).Perm(), true
}

func createTemp(root *os.Root, dir string) (*os.File, string, error) {
	for range 10000 {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, "", err
		}
		name := filepath.Join(dir, strings.Replace(tempPattern, "*", hex.EncodeToString(b[:]), 1))
		f, err := root.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, name, nil
	}
	return nil, "", errors.New("temp file names exhausted")
}
