package encryption

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/meigma/zipentry/internal/ziptype"
)

// keys is the traditional PKWARE cipher state.
type keys [3]uint32

func newKeys(password []byte) *keys {
	k := &keys{0x12345678, 0x23456789, 0x34567890}
	for _, b := range password {
		k.update(b)
	}
	return k
}

func crcByte(crc uint32, b byte) uint32 {
	return crc32.IEEETable[byte(crc)^b] ^ crc>>8
}

func (k *keys) update(b byte) {
	k[0] = crcByte(k[0], b)
	k[1] = (k[1]+k[0]&0xff)*134775813 + 1
	k[2] = crcByte(k[2], byte(k[1]>>24))
}

func (k *keys) stream() byte {
	t := k[2] | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (k *keys) encrypt(dst, src []byte) {
	for i, p := range src {
		dst[i] = p ^ k.stream()
		k.update(p)
	}
}

func (k *keys) decrypt(dst, src []byte) {
	for i, c := range src {
		p := c ^ k.stream()
		k.update(p)
		dst[i] = p
	}
}

type weakCipher struct {
	keys  *keys
	check byte
	rand  io.Reader
}

func newWeakCipher(password []byte, check byte, rnd io.Reader) *weakCipher {
	return &weakCipher{keys: newKeys(password), check: check, rand: rnd}
}

func (*weakCipher) FramingLength() int { return WeakHeaderLen }

// WriteHeader writes 11 random bytes followed by the check byte, encrypted.
func (c *weakCipher) WriteHeader(w io.Writer) error {
	var hdr [WeakHeaderLen]byte
	if _, err := io.ReadFull(c.rand, hdr[:WeakHeaderLen-1]); err != nil {
		return fmt.Errorf("generate encryption header: %w", err)
	}
	hdr[WeakHeaderLen-1] = c.check
	c.keys.encrypt(hdr[:], hdr[:])
	_, err := w.Write(hdr[:])
	return err
}

func (c *weakCipher) Encrypter(w io.Writer) io.WriteCloser {
	return &weakWriter{w: w, keys: c.keys}
}

type weakWriter struct {
	w    io.Writer
	keys *keys
	buf  []byte
	err  error
}

// Write encrypts p and writes it. The key state advances over all of p, so
// after a failed or short write the stream cannot be resumed and every later
// call returns the same error.
func (ww *weakWriter) Write(p []byte) (int, error) {
	if ww.err != nil {
		return 0, ww.err
	}
	if cap(ww.buf) < len(p) {
		ww.buf = make([]byte, len(p))
	}
	buf := ww.buf[:len(p)]
	ww.keys.encrypt(buf, p)
	n, err := ww.w.Write(buf)
	ww.err = shortWrite(n, len(p), err)
	return n, ww.err
}

func (ww *weakWriter) Close() error { return ww.err }

func newWeakReader(r io.Reader, password []byte, check byte, payload int64) (io.Reader, error) {
	k := newKeys(password)
	var hdr [WeakHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read encryption header: %w", ziptype.ErrIntegrity, err)
	}
	k.decrypt(hdr[:], hdr[:])
	if hdr[WeakHeaderLen-1] != check {
		return nil, ziptype.ErrPassword
	}
	return &weakReader{r: io.LimitReader(r, payload), keys: k}, nil
}

type weakReader struct {
	r    io.Reader
	keys *keys
}

func (wr *weakReader) Read(p []byte) (int, error) {
	n, err := wr.r.Read(p)
	wr.keys.decrypt(p[:n], p[:n])
	return n, err
}
