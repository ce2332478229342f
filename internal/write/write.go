// Package write streams entry content through CRC accumulation, Deflate
// compression and encryption, and decides how an entry is compressed.
package write

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/zipentry/internal/encryption"
	"github.com/meigma/zipentry/internal/file"
	"github.com/meigma/zipentry/internal/ziptype"
)

// Pipeline configures one pass of entry content.
type Pipeline struct {
	Method     ziptype.Method
	Compressor *file.CompressPool

	// Cipher encrypts the compressed bytes. Its header must already have
	// been written. Nil writes plaintext.
	Cipher encryption.Cipher

	Buf     []byte
	OnChunk file.ChunkFunc
}

// Result describes what one pass produced.
type Result struct {
	CRC32        uint32
	Uncompressed uint64

	// Compressed counts compressor output, before encryption.
	Compressed uint64

	// Written counts every byte that reached the destination, including
	// the AES MAC.
	Written uint64
}

// Stream copies src through the pipeline into w.
//
// Stream: src → TeeReader(crc) → compressor → encrypter → countingWriter(w)
func Stream(ctx context.Context, src io.Reader, w io.Writer, p Pipeline) (Result, error) {
	out := &file.CountingWriter{W: w}
	var sink io.Writer = out
	var enc io.WriteCloser
	if p.Cipher != nil {
		enc = p.Cipher.Encrypter(out)
		sink = enc
	}
	compressed := &file.CountingWriter{W: sink}
	crc := file.NewCRCValidator()
	in := io.TeeReader(src, crc)

	switch p.Method {
	case ziptype.Store:
		if _, err := file.CopyWithContext(ctx, compressed, in, p.Buf, p.OnChunk); err != nil {
			return Result{}, wrapOverflowErr(err)
		}
	case ziptype.Deflate:
		pool := p.Compressor
		if pool == nil {
			pool = file.NewCompressPool(file.DefaultCompression)
		}
		fw, release, err := pool.Get(compressed)
		if err != nil {
			return Result{}, fmt.Errorf("create deflate writer: %w", err)
		}
		defer release()
		if _, err := file.CopyWithContext(ctx, fw, in, p.Buf, p.OnChunk); err != nil {
			return Result{}, wrapOverflowErr(err)
		}
		if err := fw.Close(); err != nil {
			return Result{}, fmt.Errorf("close deflate writer: %w", err)
		}
	default:
		return Result{}, fmt.Errorf("%w: compression method %d", ziptype.ErrUnsupportedFeature, uint16(p.Method))
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return Result{}, fmt.Errorf("finish encryption: %w", err)
		}
	}

	return Result{
		CRC32:        crc.Sum32(),
		Uncompressed: crc.Count(),
		Compressed:   compressed.N,
		Written:      out.N,
	}, nil
}

func wrapOverflowErr(err error) error {
	if errors.Is(err, file.ErrOverflow) {
		return ziptype.ErrCapacity
	}
	return err
}
