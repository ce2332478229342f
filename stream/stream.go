// Package stream provides the output abstraction entries are written to.
//
// A Stream reports whether it can seek. Seekable streams let the writer go
// back and patch a header once sizes are known; forward-only streams get a
// trailing data descriptor instead.
package stream

import (
	"errors"
	"io"
)

// ErrNotSeekable is returned by Seek and SetLength on forward-only streams.
var ErrNotSeekable = errors.New("stream: not seekable")

// Stream is a writable byte stream with an optional random-access capability.
type Stream interface {
	io.Writer
	io.Seeker

	// Position returns the offset the next Write lands at.
	Position() int64

	// Length returns the current size of the stream's content.
	Length() int64

	// SetLength truncates or extends the stream to n bytes.
	SetLength(n int64) error

	// CanSeek reports whether Seek and SetLength are supported.
	CanSeek() bool
}

type truncater interface {
	Truncate(size int64) error
}

// FromWriter adapts w. If w already is a Stream it is returned unchanged.
// An io.WriteSeeker with a Truncate(int64) method, such as *os.File, that
// can report its current offset becomes a seekable stream. Anything else is
// forward-only.
func FromWriter(w io.Writer) Stream {
	if s, ok := w.(Stream); ok {
		return s
	}
	if ws, ok := w.(io.WriteSeeker); ok {
		if _, ok := w.(truncater); !ok {
			return Forward(w)
		}
		pos, err := ws.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := ws.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := ws.Seek(pos, io.SeekStart); err == nil {
					return &seeker{ws: ws, pos: pos, length: end}
				}
			}
		}
	}
	return Forward(w)
}

// seeker wraps an io.WriteSeeker.
type seeker struct {
	ws     io.WriteSeeker
	pos    int64
	length int64
}

func (s *seeker) Write(p []byte) (int, error) {
	n, err := s.ws.Write(p)
	s.pos += int64(n)
	if s.pos > s.length {
		s.length = s.pos
	}
	return n, err
}

func (s *seeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.ws.Seek(offset, whence)
	if err != nil {
		return s.pos, err
	}
	s.pos = pos
	return pos, nil
}

func (s *seeker) Position() int64 { return s.pos }

func (s *seeker) Length() int64 { return s.length }

func (s *seeker) SetLength(n int64) error {
	if err := s.ws.(truncater).Truncate(n); err != nil { //nolint:forcetypeassert // checked in FromWriter
		return err
	}
	s.length = n
	return nil
}

func (*seeker) CanSeek() bool { return true }

// Forward wraps w as a forward-only stream, even when w could seek.
func Forward(w io.Writer) Stream {
	return &forward{w: w}
}

type forward struct {
	w   io.Writer
	pos int64
}

func (f *forward) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.pos += int64(n)
	return n, err
}

func (f *forward) Seek(int64, int) (int64, error) { return f.pos, ErrNotSeekable }

func (f *forward) Position() int64 { return f.pos }

func (f *forward) Length() int64 { return f.pos }

func (*forward) SetLength(int64) error { return ErrNotSeekable }

func (*forward) CanSeek() bool { return false }
