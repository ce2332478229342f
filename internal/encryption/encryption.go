// Package encryption implements the crypto framing of zip entries: the
// traditional PKWARE cipher with its 12 byte header and WinZip AES with its
// salt, password verifier and trailing MAC.
package encryption

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/meigma/zipentry/internal/ziptype"
)

// WeakHeaderLen is the size of the traditional PKWARE encryption header.
const WeakHeaderLen = 12

// MACLen is the size of the truncated HMAC-SHA1 that follows AES payloads.
const MACLen = 10

// pvLen is the size of the AES password verification value.
const pvLen = 2

// SaltLength returns the AES salt size for alg, or 0 for non-AES algorithms.
func SaltLength(alg ziptype.Encryption) int {
	switch alg {
	case ziptype.EncryptionAES128:
		return 8
	case ziptype.EncryptionAES256:
		return 16
	default:
		return 0
	}
}

// FramingLength returns the number of bytes the crypto header occupies in
// front of the payload.
func FramingLength(alg ziptype.Encryption) int {
	switch alg {
	case ziptype.EncryptionWeak:
		return WeakHeaderLen
	case ziptype.EncryptionAES128, ziptype.EncryptionAES256:
		return SaltLength(alg) + pvLen
	default:
		return 0
	}
}

// TrailerLength returns the number of bytes following the payload.
func TrailerLength(alg ziptype.Encryption) int {
	if alg.IsAES() {
		return MACLen
	}
	return 0
}

// Cipher encrypts one entry's payload on the write path.
type Cipher interface {
	// FramingLength is the size of the header written by WriteHeader.
	FramingLength() int

	// WriteHeader emits the crypto header in front of the payload.
	WriteHeader(w io.Writer) error

	// Encrypter returns a writer that encrypts into w. Close flushes any
	// trailer (the AES MAC) but does not close w.
	Encrypter(w io.Writer) io.WriteCloser
}

// Params describe the cipher to build for a write.
type Params struct {
	Algorithm ziptype.Encryption
	Password  string

	// Check is the password verification byte for the weak cipher: the high
	// byte of the CRC, or of the DOS time when a data descriptor is used.
	Check byte

	// Rand supplies header randomness and AES salts. Nil uses crypto/rand.
	Rand io.Reader
}

// NewCipher builds a write-side cipher for p.
func NewCipher(p Params) (Cipher, error) {
	if p.Password == "" {
		return nil, fmt.Errorf("%w: no password for %s encryption", ziptype.ErrPassword, p.Algorithm)
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Reader
	}
	switch p.Algorithm {
	case ziptype.EncryptionWeak:
		return newWeakCipher([]byte(p.Password), p.Check, rnd), nil
	case ziptype.EncryptionAES128, ziptype.EncryptionAES256:
		return newAESCipher(p.Algorithm, []byte(p.Password), rnd)
	default:
		return nil, fmt.Errorf("%w: cannot encrypt with %s", ziptype.ErrUnsupportedFeature, p.Algorithm)
	}
}

// ReadParams describe the payload being decrypted.
type ReadParams struct {
	Algorithm ziptype.Encryption
	Password  string

	// Check is the expected weak-cipher verification byte.
	Check byte

	// PayloadLength is the stored size minus framing and MAC.
	PayloadLength int64
}

// NewReader consumes the crypto header from r, verifies the password and
// returns a reader yielding the decrypted payload. For AES the returned
// reader checks the MAC once the payload is exhausted.
func NewReader(r io.Reader, p ReadParams) (io.Reader, error) {
	if p.Password == "" {
		return nil, fmt.Errorf("%w: entry is encrypted", ziptype.ErrPassword)
	}
	switch p.Algorithm {
	case ziptype.EncryptionWeak:
		return newWeakReader(r, []byte(p.Password), p.Check, p.PayloadLength)
	case ziptype.EncryptionAES128, ziptype.EncryptionAES256:
		return newAESReader(r, p.Algorithm, []byte(p.Password), p.PayloadLength)
	default:
		return nil, fmt.Errorf("%w: cannot decrypt %s", ziptype.ErrUnsupportedFeature, p.Algorithm)
	}
}

// shortWrite reports err, or io.ErrShortWrite when fewer than want bytes
// were accepted without an error.
func shortWrite(n, want int, err error) error {
	if err == nil && n < want {
		return io.ErrShortWrite
	}
	return err
}
