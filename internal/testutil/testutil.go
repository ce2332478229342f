// Package testutil provides in-memory archive sources, content openers and
// raw header builders for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
)

// ByteSource is random access over an in-memory archive.
type ByteSource struct {
	data []byte
}

// NewByteSource returns a source backed by data.
func NewByteSource(data []byte) *ByteSource {
	return &ByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (s *ByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (s *ByteSource) Size() int64 {
	return int64(len(s.data))
}

// Bytes returns the backing slice for tests that need to mutate data.
func (s *ByteSource) Bytes() []byte {
	return s.data
}

// Opener serves fixed content and counts how often it was opened.
type Opener struct {
	data  []byte
	opens atomic.Int32
}

// NewOpener returns an Opener for data.
func NewOpener(data []byte) *Opener {
	return &Opener{data: data}
}

// Open matches the Entry.Open signature.
func (o *Opener) Open() (io.ReadCloser, error) {
	o.opens.Add(1)
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

// Opens reports the number of Open calls.
func (o *Opener) Opens() int {
	return int(o.opens.Load())
}

// ErrInjected is returned by FailingReader.
var ErrInjected = errors.New("injected failure")

// FailingReader returns ErrInjected once N bytes have been read.
type FailingReader struct {
	N int
}

func (r *FailingReader) Read(p []byte) (int, error) {
	if r.N <= 0 {
		return 0, ErrInjected
	}
	n := min(len(p), r.N)
	clear(p[:n])
	r.N -= n
	return n, nil
}

// HookReader calls Hook after every successful read of R.
type HookReader struct {
	R    io.Reader
	Hook func()
}

func (r *HookReader) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	if n > 0 && r.Hook != nil {
		r.Hook()
	}
	return n, err
}

// LocalHeader describes a raw local file header for hand-built archives.
type LocalHeader struct {
	Version        uint16
	Flags          uint16
	Method         uint16
	DOSTime        uint32
	CRC32          uint32
	CompressedSize uint32
	Size           uint32
	Name           string
	Extra          []byte
}

// Bytes encodes the header.
func (h LocalHeader) Bytes() []byte {
	version := h.Version
	if version == 0 {
		version = 20
	}
	b := binary.LittleEndian.AppendUint32(nil, 0x04034b50)
	b = binary.LittleEndian.AppendUint16(b, version)
	b = binary.LittleEndian.AppendUint16(b, h.Flags)
	b = binary.LittleEndian.AppendUint16(b, h.Method)
	b = binary.LittleEndian.AppendUint16(b, uint16(h.DOSTime))
	b = binary.LittleEndian.AppendUint16(b, uint16(h.DOSTime>>16))
	b = binary.LittleEndian.AppendUint32(b, h.CRC32)
	b = binary.LittleEndian.AppendUint32(b, h.CompressedSize)
	b = binary.LittleEndian.AppendUint32(b, h.Size)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(h.Name)))  //nolint:gosec // test names are short
	b = binary.LittleEndian.AppendUint16(b, uint16(len(h.Extra))) //nolint:gosec // test extras are short
	b = append(b, h.Name...)
	return append(b, h.Extra...)
}

// Descriptor encodes a data descriptor with 32-bit sizes. Signed adds the
// leading signature.
func Descriptor(signed bool, crc, csize, usize uint32) []byte {
	var b []byte
	if signed {
		b = binary.LittleEndian.AppendUint32(b, 0x08074b50)
	}
	b = binary.LittleEndian.AppendUint32(b, crc)
	b = binary.LittleEndian.AppendUint32(b, csize)
	return binary.LittleEndian.AppendUint32(b, usize)
}

// ExtraBlock encodes one extra-field block.
func ExtraBlock(id uint16, payload []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, id)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(payload))) //nolint:gosec // test payloads are short
	return append(b, payload...)
}
