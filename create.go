package zipentry

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Unix and MS-DOS bits stored in ExternalAttrs.
const (
	unixDir     = 0o040000
	unixRegular = 0o100000
	msdosDir    = 0x10
)

// CreateOption configures Create and CreateFile.
type CreateOption func(*createConfig)

type createConfig struct {
	writer     []WriterOption
	encryption Encryption
	password   string
}

// CreateWithWriterOptions passes opts to the underlying Writer.
func CreateWithWriterOptions(opts ...WriterOption) CreateOption {
	return func(c *createConfig) {
		c.writer = append(c.writer, opts...)
	}
}

// CreateWithEncryption encrypts every file entry with alg and password.
func CreateWithEncryption(alg Encryption, password string) CreateOption {
	return func(c *createConfig) {
		c.encryption = alg
		c.password = password
	}
}

// Create writes an archive of the contents of dir to dst.
//
// Entries are written in lexical path order, directories included so empty
// ones survive. Symbolic links and other non-regular files are skipped.
//
// The context can be used for cancellation of long-running archive creation.
func Create(ctx context.Context, dir string, dst io.Writer, opts ...CreateOption) error {
	var cfg createConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	w := NewWriter(dst, cfg.writer...)
	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		e, ok, err := fileEntry(root, path, d)
		if err != nil || !ok {
			return err
		}
		if !e.IsDir() && cfg.encryption != EncryptionNone {
			e.Encryption = cfg.encryption
			e.Password = cfg.password
		}
		return w.WriteEntry(ctx, e)
	})
	if err != nil {
		return err
	}
	return w.Close()
}

// CreateFile writes an archive of dir to a new file at path. The file is
// removed again if anything fails.
func CreateFile(ctx context.Context, path, dir string, opts ...CreateOption) (err error) {
	f, err := os.Create(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return Create(ctx, dir, f, opts...)
}

// fileEntry describes the file at path inside root. It reports false for
// files that cannot be archived.
func fileEntry(root *os.Root, path string, d fs.DirEntry) (*Entry, bool, error) {
	info, err := d.Info()
	if err != nil {
		return nil, false, err
	}
	e := &Entry{
		Name:          path,
		Modified:      info.ModTime(),
		ExternalAttrs: fileAttrs(info),
	}
	switch {
	case info.IsDir():
		e.Name += "/"
	case info.Mode().IsRegular():
		fsPath := filepath.FromSlash(path)
		e.UncompressedSize = uint64(info.Size()) //nolint:gosec // sizes are non-negative
		e.Open = func() (io.ReadCloser, error) {
			return root.Open(fsPath)
		}
	default:
		return nil, false, nil
	}
	return e, true, nil
}

func fileAttrs(info fs.FileInfo) uint32 {
	perm := uint32(info.Mode().Perm())
	if info.IsDir() {
		return (perm|unixDir)<<16 | msdosDir
	}
	return (perm | unixRegular) << 16
}
