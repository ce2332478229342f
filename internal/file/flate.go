package file

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// Compression levels accepted by CompressPool.
const (
	HuffmanOnly        = flate.HuffmanOnly
	BestSpeed          = flate.BestSpeed
	DefaultCompression = flate.DefaultCompression
	BestCompression    = flate.BestCompression
)

// CompressPool manages reusable Deflate writers for one compression level.
type CompressPool struct {
	level int
	pool  sync.Pool
}

// NewCompressPool creates a pool of writers at level. Invalid levels fall
// back to DefaultCompression.
func NewCompressPool(level int) *CompressPool {
	if level < HuffmanOnly || level > BestCompression {
		level = DefaultCompression
	}
	return &CompressPool{level: level}
}

// Level returns the pool's compression level.
func (p *CompressPool) Level() int { return p.level }

// Get returns a writer compressing into w. The caller must Close the writer
// to flush the final block and then call release.
func (p *CompressPool) Get(w io.Writer) (*flate.Writer, func(), error) {
	if fw, ok := p.pool.Get().(*flate.Writer); ok {
		fw.Reset(w)
		return fw, func() { p.pool.Put(fw) }, nil
	}
	fw, err := flate.NewWriter(w, p.level)
	if err != nil {
		return nil, nil, err
	}
	return fw, func() { p.pool.Put(fw) }, nil
}

// DecompressPool manages reusable Deflate readers.
type DecompressPool struct {
	pool sync.Pool
}

// NewDecompressPool creates an empty reader pool.
func NewDecompressPool() *DecompressPool {
	return &DecompressPool{}
}

// Get returns a reader inflating r. The caller must call release when done;
// release closes the reader.
func (p *DecompressPool) Get(r io.Reader) (io.ReadCloser, func()) {
	if p == nil {
		fr := flate.NewReader(r)
		return fr, func() { _ = fr.Close() } //nolint:errcheck // flate readers do not fail on close
	}
	if fr, ok := p.pool.Get().(io.ReadCloser); ok {
		if rs, ok := fr.(flate.Resetter); ok && rs.Reset(r, nil) == nil {
			return fr, p.releaser(fr)
		}
	}
	fr := flate.NewReader(r)
	return fr, p.releaser(fr)
}

func (p *DecompressPool) releaser(fr io.ReadCloser) func() {
	return func() {
		_ = fr.Close() //nolint:errcheck // flate readers do not fail on close
		p.pool.Put(fr)
	}
}
