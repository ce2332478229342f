// Package ziptype defines shared types used across the zipentry package and
// its internal packages. This avoids circular imports between zipentry and
// internal/encryption.
package ziptype

// Method identifies the compression method stored in a header.
type Method uint16

const (
	Store   Method = 0
	Deflate Method = 8

	// AESMarker is the method value written to the header of a WinZip AES
	// entry. The real method lives in the 0x9901 extra block.
	AESMarker Method = 99
)

func (m Method) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case AESMarker:
		return "aes"
	default:
		return "unknown"
	}
}

// Supported reports whether entries using m can be compressed or extracted.
func (m Method) Supported() bool {
	return m == Store || m == Deflate
}

// Encryption identifies the algorithm protecting an entry's payload.
type Encryption uint8

const (
	EncryptionNone Encryption = iota
	EncryptionWeak
	EncryptionAES128
	EncryptionAES256
	EncryptionUnsupported
)

func (e Encryption) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionWeak:
		return "weak"
	case EncryptionAES128:
		return "aes128"
	case EncryptionAES256:
		return "aes256"
	default:
		return "unsupported"
	}
}

// IsAES reports whether e is one of the WinZip AES variants.
func (e Encryption) IsAES() bool {
	return e == EncryptionAES128 || e == EncryptionAES256
}

// Zip64Policy controls when ZIP64 extensions are written.
type Zip64Policy uint8

const (
	// Zip64AsNecessary reserves room for ZIP64 fields and promotes an entry
	// only when one of its sizes or its offset does not fit in 32 bits.
	Zip64AsNecessary Zip64Policy = iota

	// Zip64Never writes classic headers only. Entries that need ZIP64 fail
	// with ErrCapacity.
	Zip64Never

	// Zip64Always writes ZIP64 fields for every entry.
	Zip64Always
)

func (p Zip64Policy) String() string {
	switch p {
	case Zip64AsNecessary:
		return "as-necessary"
	case Zip64Never:
		return "never"
	case Zip64Always:
		return "always"
	default:
		return "unknown"
	}
}

// Tristate is a boolean that may not be known yet.
type Tristate uint8

const (
	TristateUnknown Tristate = iota
	TristateFalse
	TristateTrue
)

// TristateOf converts b to a known Tristate.
func TristateOf(b bool) Tristate {
	if b {
		return TristateTrue
	}
	return TristateFalse
}

// Known reports whether the value has been decided.
func (t Tristate) Known() bool { return t != TristateUnknown }

// True reports whether the value is known and true.
func (t Tristate) True() bool { return t == TristateTrue }

func (t Tristate) String() string {
	switch t {
	case TristateFalse:
		return "false"
	case TristateTrue:
		return "true"
	default:
		return "unknown"
	}
}

// TimestampKind records which timestamp encodings were seen or will be written.
type TimestampKind uint8

const (
	TimestampDOS TimestampKind = 1 << iota
	TimestampNTFS
	TimestampUnix
	TimestampInfoZip
)

// Has reports whether all kinds in k2 are set in k.
func (k TimestampKind) Has(k2 TimestampKind) bool { return k&k2 == k2 }
