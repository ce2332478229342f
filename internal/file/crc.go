package file

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/meigma/zipentry/internal/ziptype"
)

// CRCValidator accumulates a CRC-32 (IEEE) over the bytes written to it.
// It never fails, so it can sit in an io.TeeReader or io.MultiWriter.
type CRCValidator struct {
	h hash.Hash32
	n uint64
}

// NewCRCValidator returns an empty accumulator.
func NewCRCValidator() *CRCValidator {
	return &CRCValidator{h: crc32.NewIEEE()}
}

// Write implements io.Writer.
func (v *CRCValidator) Write(p []byte) (int, error) {
	_, _ = v.h.Write(p) //nolint:errcheck // hash writes never fail
	v.n += uint64(len(p))
	return len(p), nil
}

// Sum32 returns the CRC of everything written so far.
func (v *CRCValidator) Sum32() uint32 { return v.h.Sum32() }

// Count returns the number of bytes accumulated.
func (v *CRCValidator) Count() uint64 { return v.n }

// Check compares the accumulated CRC and length with the expected values.
func (v *CRCValidator) Check(crc uint32, size uint64) error {
	if v.n != size {
		return fmt.Errorf("%w: read %d bytes, want %d", ziptype.ErrIntegrity, v.n, size)
	}
	if got := v.h.Sum32(); got != crc {
		return fmt.Errorf("%w: crc32 0x%08x, want 0x%08x", ziptype.ErrIntegrity, got, crc)
	}
	return nil
}

// ChecksumReader reads the uncompressed content of an entry and validates it
// at EOF. Reading past the expected size, or hitting EOF before it, is an
// integrity failure.
type ChecksumReader struct {
	r         io.Reader
	crc       *CRCValidator
	want      uint32
	size      uint64
	remaining uint64
	skipCRC   bool

	verified  bool
	verifyErr error
}

// NewChecksumReader wraps r. When skipCRC is set only the length is checked;
// AE-2 entries store no CRC.
func NewChecksumReader(r io.Reader, crc uint32, size uint64, skipCRC bool) *ChecksumReader {
	return &ChecksumReader{
		r:         r,
		crc:       NewCRCValidator(),
		want:      crc,
		size:      size,
		remaining: size,
		skipCRC:   skipCRC,
	}
}

// Read implements io.Reader.
func (c *ChecksumReader) Read(p []byte) (int, error) {
	if c.verifyErr != nil {
		return 0, c.verifyErr
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.remaining == 0 {
		return c.readExtra()
	}
	if uint64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}

	n, err := c.r.Read(p)
	if n > 0 {
		_, _ = c.crc.Write(p[:n]) //nolint:errcheck // never fails
		c.remaining -= uint64(n)
	}
	if err == io.EOF {
		if c.remaining != 0 {
			c.verifyErr = fmt.Errorf("%w: unexpected EOF with %d bytes remaining", ziptype.ErrIntegrity, c.remaining)
			return n, c.verifyErr
		}
		if verifyErr := c.verify(); verifyErr != nil {
			return n, verifyErr
		}
		return n, io.EOF
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

func (c *ChecksumReader) readExtra() (int, error) {
	var scratch [1]byte
	n, err := c.r.Read(scratch[:])
	if n > 0 {
		c.verifyErr = fmt.Errorf("%w: content longer than %d bytes", ziptype.ErrIntegrity, c.size)
		return 0, c.verifyErr
	}
	if err == io.EOF {
		if verifyErr := c.verify(); verifyErr != nil {
			return 0, verifyErr
		}
		return 0, io.EOF
	}
	return 0, err
}

func (c *ChecksumReader) verify() error {
	if c.verified {
		return c.verifyErr
	}
	c.verified = true
	if c.skipCRC {
		return nil
	}
	if got := c.crc.Sum32(); got != c.want {
		c.verifyErr = fmt.Errorf("%w: crc32 0x%08x, want 0x%08x", ziptype.ErrIntegrity, got, c.want)
	}
	return c.verifyErr
}

// Sum computes the CRC-32 and length of everything r yields.
func Sum(r io.Reader, buf []byte) (uint32, uint64, error) {
	v := NewCRCValidator()
	if len(buf) == 0 {
		buf = make([]byte, DefaultBufferSize)
	}
	if _, err := io.CopyBuffer(v, r, buf); err != nil {
		return 0, 0, err
	}
	return v.Sum32(), v.Count(), nil
}
