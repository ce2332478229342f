package file

import (
	"context"
	"io"
)

// DefaultBufferSize is the chunk size used when callers do not supply one.
const DefaultBufferSize = 32 * 1024

// ChunkFunc observes the running total after each chunk is written.
type ChunkFunc func(written uint64)

// CopyWithContext copies from src to dst until EOF or error, checking for
// context cancellation between reads. onChunk, if non-nil, is called after
// every successful write. It returns the number of bytes written.
//
//nolint:gocognit // Follows stdlib io.Copy pattern; complexity is inherent to correct I/O handling
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, onChunk ChunkFunc) (uint64, error) {
	if len(buf) == 0 {
		buf = make([]byte, DefaultBufferSize)
	}
	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				if written > ^uint64(0)-uint64(nw) {
					return written, ErrOverflow
				}
				written += uint64(nw)
				if onChunk != nil {
					onChunk(written)
				}
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}
