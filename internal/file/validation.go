package file

import (
	"fmt"

	"github.com/meigma/zipentry/internal/sizing"
	"github.com/meigma/zipentry/internal/ziptype"
)

// ValidateForRead checks that an entry is safe to extract from a source of
// the given size. It validates:
//   - the compression method is one that can be inflated
//   - the encryption scheme is one that can be decrypted
//   - crypto framing fits inside the stored size
//   - the stored payload lies within source bounds
func ValidateForRead(entry *ziptype.Entry, sourceSize int64) error {
	if !entry.Method.Supported() {
		return fmt.Errorf("%w: compression method %d", ziptype.ErrUnsupportedFeature, uint16(entry.Method))
	}
	if entry.Encryption == ziptype.EncryptionUnsupported {
		return fmt.Errorf("%w: encryption scheme", ziptype.ErrUnsupportedFeature)
	}
	framing := uint64(entry.CryptoFramingLength) + uint64(entry.MACLength()) //nolint:gosec // both small and non-negative
	if entry.CompressedSize < framing {
		return fmt.Errorf("%w: stored size %d shorter than crypto framing", ziptype.ErrFormat, entry.CompressedSize)
	}
	if sourceSize < 0 || entry.DataOffset() < 0 {
		return ziptype.ErrFormat
	}
	end, ok := sizing.AddUint64(uint64(entry.DataOffset()), entry.CompressedSize)
	if !ok || end > uint64(sourceSize) {
		return fmt.Errorf("%w: entry data extends past end of archive", ziptype.ErrFormat)
	}
	return nil
}
