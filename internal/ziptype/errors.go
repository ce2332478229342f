package ziptype

import "errors"

// Sentinel errors for entry operations.
var (
	// ErrFormat is returned for bad signatures, short headers and malformed
	// extra-field blocks.
	ErrFormat = errors.New("zip: not a valid zip entry")

	// ErrUnsupportedFeature is returned for compression methods other than
	// Store and Deflate and for encryption schemes that cannot be handled.
	ErrUnsupportedFeature = errors.New("zip: unsupported feature")

	// ErrPassword is returned when an encrypted entry is opened without a
	// password or with the wrong one.
	ErrPassword = errors.New("zip: missing or incorrect password")

	// ErrIntegrity is returned when extracted content fails CRC, size or MAC
	// verification.
	ErrIntegrity = errors.New("zip: integrity check failed")

	// ErrCapacity is returned when a value does not fit in the format:
	// ZIP64 is required but disabled, or a name, comment or extra field
	// exceeds 65535 bytes.
	ErrCapacity = errors.New("zip: capacity exceeded")
)
