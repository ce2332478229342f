package stream

import (
	"errors"
	"io"
)

var errNegativePosition = errors.New("stream: negative position")

// Memory is an in-memory seekable Stream. The zero value is ready to use.
// It also implements io.ReaderAt so written archives can be read back.
type Memory struct {
	buf []byte
	pos int64
}

// NewMemory returns a Memory holding a copy of b, positioned at its end.
func NewMemory(b []byte) *Memory {
	return &Memory{buf: append([]byte(nil), b...), pos: int64(len(b))}
}

// Write writes p at the current position, growing the buffer as needed.
// Writing past the end zero-fills the gap.
func (m *Memory) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, end, max(end, 2*int64(cap(m.buf))))
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (m *Memory) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return m.pos, errors.New("stream: invalid whence")
	}
	if abs < 0 {
		return m.pos, errNegativePosition
	}
	m.pos = abs
	return abs, nil
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativePosition
	}
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Position implements Stream.
func (m *Memory) Position() int64 { return m.pos }

// Length implements Stream.
func (m *Memory) Length() int64 { return int64(len(m.buf)) }

// Size returns the content length, satisfying the archive source interface.
func (m *Memory) Size() int64 { return int64(len(m.buf)) }

// SetLength truncates or zero-extends the content.
func (m *Memory) SetLength(n int64) error {
	if n < 0 {
		return errNegativePosition
	}
	if n <= int64(len(m.buf)) {
		clear(m.buf[n:])
		m.buf = m.buf[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

// CanSeek implements Stream.
func (*Memory) CanSeek() bool { return true }

// Bytes returns the content. The slice aliases the buffer until the next write.
func (m *Memory) Bytes() []byte { return m.buf }
