package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // WinZip AES mandates HMAC-SHA1 and PBKDF2-SHA1
	"crypto/subtle"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/meigma/zipentry/internal/ziptype"
)

const pbkdf2Iterations = 1000

func keyLength(alg ziptype.Encryption) int {
	if alg == ziptype.EncryptionAES128 {
		return 16
	}
	return 32
}

// deriveKeys returns the AES key, the HMAC key and the password verifier.
func deriveKeys(alg ziptype.Encryption, password, salt []byte) (encKey, macKey, pv []byte) {
	n := keyLength(alg)
	dk := pbkdf2.Key(password, salt, pbkdf2Iterations, 2*n+pvLen, sha1.New)
	return dk[:n], dk[n : 2*n], dk[2*n:]
}

// ctrLE is AES in counter mode with the little-endian counter, starting at 1,
// that WinZip uses. crypto/cipher's CTR counts big-endian.
type ctrLE struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	ks      [aes.BlockSize]byte
	pos     int
}

func newCTR(block cipher.Block) *ctrLE {
	return &ctrLE{block: block, pos: aes.BlockSize}
}

func (c *ctrLE) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == aes.BlockSize {
			for j := range c.counter {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
			c.block.Encrypt(c.ks[:], c.counter[:])
			c.pos = 0
		}
		dst[i] = src[i] ^ c.ks[c.pos]
		c.pos++
	}
}

type aesCipher struct {
	salt []byte
	pv   []byte
	ctr  *ctrLE
	mac  hash.Hash
}

func newAESCipher(alg ziptype.Encryption, password []byte, rnd io.Reader) (*aesCipher, error) {
	salt := make([]byte, SaltLength(alg))
	if _, err := io.ReadFull(rnd, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	encKey, macKey, pv := deriveKeys(alg, password, salt)
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	return &aesCipher{salt: salt, pv: pv, ctr: newCTR(block), mac: hmac.New(sha1.New, macKey)}, nil
}

func (c *aesCipher) FramingLength() int { return len(c.salt) + pvLen }

// WriteHeader writes the salt and password verifier in cleartext.
func (c *aesCipher) WriteHeader(w io.Writer) error {
	if _, err := w.Write(c.salt); err != nil {
		return err
	}
	_, err := w.Write(c.pv)
	return err
}

func (c *aesCipher) Encrypter(w io.Writer) io.WriteCloser {
	return &aesWriter{w: w, c: c}
}

type aesWriter struct {
	w   io.Writer
	c   *aesCipher
	buf []byte
	err error
}

// Write encrypts p and writes it. The counter and MAC advance over all of p,
// so a failed or short write is sticky.
func (aw *aesWriter) Write(p []byte) (int, error) {
	if aw.err != nil {
		return 0, aw.err
	}
	if cap(aw.buf) < len(p) {
		aw.buf = make([]byte, len(p))
	}
	buf := aw.buf[:len(p)]
	aw.c.ctr.XORKeyStream(buf, p)
	_, _ = aw.c.mac.Write(buf) //nolint:errcheck // hash writes never fail
	n, err := aw.w.Write(buf)
	aw.err = shortWrite(n, len(p), err)
	return n, aw.err
}

// Close appends the authentication code.
func (aw *aesWriter) Close() error {
	if aw.err != nil {
		return aw.err
	}
	n, err := aw.w.Write(aw.c.mac.Sum(nil)[:MACLen])
	aw.err = shortWrite(n, MACLen, err)
	return aw.err
}

func newAESReader(r io.Reader, alg ziptype.Encryption, password []byte, payload int64) (io.Reader, error) {
	hdr := make([]byte, FramingLength(alg))
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: read encryption header: %w", ziptype.ErrIntegrity, err)
	}
	salt, pv := hdr[:len(hdr)-pvLen], hdr[len(hdr)-pvLen:]
	encKey, macKey, want := deriveKeys(alg, password, salt)
	if subtle.ConstantTimeCompare(pv, want) != 1 {
		return nil, ziptype.ErrPassword
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	return &aesReader{
		src:  r,
		data: io.LimitReader(r, payload),
		ctr:  newCTR(block),
		mac:  hmac.New(sha1.New, macKey),
	}, nil
}

type aesReader struct {
	src  io.Reader
	data io.Reader
	ctr  *ctrLE
	mac  hash.Hash
	err  error
}

func (ar *aesReader) Read(p []byte) (int, error) {
	if ar.err != nil {
		return 0, ar.err
	}
	n, err := ar.data.Read(p)
	if n > 0 {
		_, _ = ar.mac.Write(p[:n]) //nolint:errcheck // hash writes never fail
		ar.ctr.XORKeyStream(p[:n], p[:n])
	}
	if err == io.EOF {
		ar.err = ar.verify()
		return n, ar.err
	}
	return n, err
}

func (ar *aesReader) verify() error {
	var stored [MACLen]byte
	if _, err := io.ReadFull(ar.src, stored[:]); err != nil {
		return fmt.Errorf("%w: read authentication code: %w", ziptype.ErrIntegrity, err)
	}
	if !hmac.Equal(stored[:], ar.mac.Sum(nil)[:MACLen]) {
		return fmt.Errorf("%w: authentication code mismatch", ziptype.ErrIntegrity)
	}
	return io.EOF
}
