package zipentry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/zipentry/internal/encryption"
	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/file"
	"github.com/meigma/zipentry/internal/ziptype"
)

// Open returns a reader for the entry's uncompressed content.
//
// The password is used for encrypted entries; when empty, e.Password is
// tried. Setup failures are returned directly: ErrUnsupportedFeature for
// methods other than Store and Deflate or unknown encryption, ErrPassword
// for a missing or wrong password. Content failures (CRC, size or AES MAC
// mismatch, corrupt Deflate data) are returned by Read as ErrIntegrity.
func (r *Reader) Open(e *Entry, password string) (io.ReadCloser, error) {
	src := e.Archive
	if src == nil {
		src = r.src
	}
	offset := int64(e.LocalHeaderOffset) //nolint:gosec // offsets come from int64 positions
	if e.IsDir() {
		return io.NopCloser(eofReader{}), nil
	}
	if err := file.ValidateForRead(e, src.Size()); err != nil {
		return nil, entryErr("open", e, offset, err)
	}

	var payload io.Reader = io.NewSectionReader(src, e.DataOffset(), int64(e.CompressedSize)) //nolint:gosec // validated against source size
	if e.Encryption != EncryptionNone {
		if password == "" {
			password = e.Password
		}
		dec, err := encryption.NewReader(payload, encryption.ReadParams{
			Algorithm:     e.Encryption,
			Password:      password,
			Check:         checkByte(e.Flags, e.CRC32, e.DOSTime),
			PayloadLength: e.CompressedDataSize(),
		})
		if err != nil {
			return nil, entryErr("open", e, offset, err)
		}
		payload = dec
	}

	er := &entryReader{entry: e, offset: offset, progress: r.cfg.progress}
	content := payload
	if e.Method == Deflate {
		fr, release := r.decoders.Get(payload)
		content = fr
		er.release = release
		if e.Encryption != EncryptionNone {
			// Inflate stops at the final block without reading the
			// decrypter to EOF, which is where the AES MAC is checked.
			er.drain = payload
		}
	}
	skipCRC := e.Encryption.IsAES() && e.AESVendorVersion == extra.AEVersion2
	er.r = file.NewChecksumReader(content, e.CRC32, e.UncompressedSize, skipCRC)
	return er, nil
}

// checkByte is the weak-encryption password verifier. Entries with a data
// descriptor use the high byte of the DOS time, since the CRC is not known
// when the encryption header is written.
func checkByte(flags uint16, crc, dosTime uint32) byte {
	if flags&ziptype.FlagDataDescriptor != 0 {
		return byte(dosTime >> 8)
	}
	return byte(crc >> 24)
}

type entryReader struct {
	r        io.Reader
	drain    io.Reader
	err      error
	release  func()
	entry    *Entry
	offset   int64
	progress ProgressFunc
	done     uint64
}

func (er *entryReader) Read(p []byte) (int, error) {
	if er.err != nil {
		return 0, er.err
	}
	n, err := er.r.Read(p)
	if err == io.EOF && er.drain != nil {
		if _, derr := io.Copy(io.Discard, er.drain); derr != nil {
			err = derr
		}
		er.drain = nil
	}
	if n > 0 && er.progress != nil {
		er.done += uint64(n)
		er.progress(ProgressEvent{
			Stage:      StageExtracting,
			Name:       er.entry.Name,
			BytesDone:  er.done,
			BytesTotal: er.entry.UncompressedSize,
		})
	}
	if err == nil || err == io.EOF {
		return n, err
	}
	var corrupt flate.CorruptInputError
	if !errors.Is(err, ErrIntegrity) && (errors.As(err, &corrupt) || errors.Is(err, io.ErrUnexpectedEOF)) {
		err = fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	er.err = entryErr("read", er.entry, er.offset, err)
	return n, er.err
}

func (er *entryReader) Close() error {
	if er.release != nil {
		er.release()
		er.release = nil
	}
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// fileSource wraps *os.File to implement Source.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (fs *fileSource) Size() int64 {
	return fs.size
}

// ArchiveFile is a Reader over an open file. Close must be called to release
// the file handle.
type ArchiveFile struct {
	*Reader
	f *os.File
}

// OpenFile opens the archive at path for reading.
func OpenFile(path string, opts ...ReaderOption) (*ArchiveFile, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	src, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ArchiveFile{Reader: NewReader(src, opts...), f: f}, nil
}

// Close closes the underlying file.
func (a *ArchiveFile) Close() error {
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
