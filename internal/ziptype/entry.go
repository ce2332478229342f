package ziptype

import (
	"io"
	"strings"
	"time"

	"github.com/meigma/zipentry/internal/extra"
)

// General purpose flag bits.
const (
	FlagEncrypted      uint16 = 1 << 0
	FlagDataDescriptor uint16 = 1 << 3
	FlagStrongEncrypt  uint16 = 1 << 6
	FlagUTF8           uint16 = 1 << 11
)

// Version-needed values written by this package.
const (
	VersionDefault uint16 = 20
	VersionZip64   uint16 = 45
)

// Sentinel32 marks a 32-bit header field whose value lives in the ZIP64 block.
const Sentinel32 = 0xffffffff

// Source is random access to an existing archive.
type Source interface {
	io.ReaderAt
	Size() int64
}

// Entry describes one archive member.
//
// Entries produced by a Reader carry the archive they came from in Archive.
// Writing such an entry unchanged copies its bytes verbatim; setting Dirty
// rewrites the header from the fields below while reusing the stored payload.
// Entries built by callers provide content through Open.
type Entry struct {
	// Name is the archive-relative path using forward slashes. Directories
	// end with "/".
	Name string

	// RawName holds the name bytes as stored in the header.
	RawName []byte

	// UTF8 reports whether the name is stored as UTF-8 (flag bit 11).
	UTF8 bool

	Comment []byte

	VersionMadeBy uint16
	VersionNeeded uint16
	Flags         uint16

	// Method is the real compression method. For AES entries the header
	// stores AESMarker and the real method sits in the AES extra block.
	Method Method

	// DOSTime is the packed MS-DOS date (high 16 bits) and time.
	DOSTime uint32

	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64

	// LocalHeaderOffset is the position of the local header in the archive.
	LocalHeaderOffset uint64

	// HeaderLength covers the fixed header, name, extra field and crypto
	// framing header.
	HeaderLength int64

	// TrailerLength covers the data descriptor following the payload.
	TrailerLength int64

	// TotalLength is the entry's full footprint in the archive.
	TotalLength int64

	Modified time.Time
	Accessed time.Time
	Created  time.Time

	// Timestamps records which encodings were read or will be written.
	Timestamps TimestampKind

	Encryption Encryption

	// Password protects the entry on write and unlocks it on extraction.
	Password string

	// AESVendorVersion is 1 (AE-1, CRC stored) or 2 (AE-2, CRC zero).
	AESVendorVersion uint16

	// CryptoFramingLength is the size of the crypto header preceding the
	// payload: 12 for weak encryption, salt plus 2 for AES.
	CryptoFramingLength int

	RequiresZip64   Tristate
	OutputUsedZip64 Tristate
	InputUsedZip64  bool

	InternalAttrs uint16
	ExternalAttrs uint32

	// Extra holds the decoded extra blocks of the last header read or written.
	Extra []extra.Block

	// Dirty forces a rewrite of an entry read from an archive.
	Dirty bool

	// Open returns the uncompressed content. It may be called more than once
	// during a single write: for the weak encryption CRC pre-pass and when
	// compression is retried as Store.
	Open func() (io.ReadCloser, error)

	// Archive is the source archive for entries produced by a Reader.
	Archive Source
}

// IsDir reports whether the entry names a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// HasDataDescriptor reports whether CRC and sizes trail the payload.
func (e *Entry) HasDataDescriptor() bool {
	return e.Flags&FlagDataDescriptor != 0
}

// MACLength is the trailing AES authentication code length.
func (e *Entry) MACLength() int64 {
	if e.Encryption.IsAES() {
		return 10
	}
	return 0
}

// CompressedDataSize is the stored payload length without crypto framing or MAC.
func (e *Entry) CompressedDataSize() int64 {
	n := int64(e.CompressedSize) - int64(e.CryptoFramingLength) - e.MACLength() //nolint:gosec // archive sizes are below 2^63
	if n < 0 {
		return 0
	}
	return n
}

// DataOffset is the absolute position of the crypto header or, for
// unencrypted entries, of the payload.
func (e *Entry) DataOffset() int64 {
	return int64(e.LocalHeaderOffset) + e.HeaderLength - int64(e.CryptoFramingLength) //nolint:gosec // archive offsets are below 2^63
}

// ModTime returns the most precise modification time known.
func (e *Entry) ModTime() time.Time {
	if !e.Modified.IsZero() {
		return e.Modified
	}
	return UnpackDOSTime(e.DOSTime, time.Local)
}

// Clone returns a shallow copy with its own slices.
func (e *Entry) Clone() *Entry {
	c := *e
	c.RawName = append([]byte(nil), e.RawName...)
	c.Comment = append([]byte(nil), e.Comment...)
	c.Extra = append([]extra.Block(nil), e.Extra...)
	return &c
}
