package zipentry

import (
	"fmt"

	"github.com/meigma/zipentry/internal/ziptype"
)

// Errors re-exported from ziptype.
var (
	// ErrFormat is returned for bad signatures, short headers and malformed
	// extra-field blocks.
	ErrFormat = ziptype.ErrFormat

	// ErrUnsupportedFeature is returned for unknown compression methods and
	// unsupported encryption schemes.
	ErrUnsupportedFeature = ziptype.ErrUnsupportedFeature

	// ErrPassword is returned when an encrypted entry is opened without a
	// password or with the wrong one.
	ErrPassword = ziptype.ErrPassword

	// ErrIntegrity is returned for CRC, size or MAC mismatches and truncated data.
	ErrIntegrity = ziptype.ErrIntegrity

	// ErrCapacity is returned when ZIP64 is required but disabled, or a name,
	// comment or extra field exceeds its 16-bit length.
	ErrCapacity = ziptype.ErrCapacity
)

// EntryError records a failed operation on one entry.
//
// Err is either one of the sentinel errors above or the underlying I/O error,
// unchanged.
type EntryError struct {
	Op     string
	Name   string
	Offset int64
	Err    error
}

func (e *EntryError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s at offset %d: %v", e.Op, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s %s at offset %d: %v", e.Op, e.Name, e.Offset, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func entryErr(op string, e *Entry, offset int64, err error) error {
	if err == nil {
		return nil
	}
	name := ""
	if e != nil {
		name = e.Name
	}
	return &EntryError{Op: op, Name: name, Offset: offset, Err: err}
}
