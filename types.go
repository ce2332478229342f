package zipentry

import (
	"github.com/meigma/zipentry/internal/write"
	"github.com/meigma/zipentry/internal/ziptype"
)

// Entry describes one archive member.
type Entry = ziptype.Entry

// Source is random access to an existing archive.
type Source = ziptype.Source

// Method identifies a compression method.
type Method = ziptype.Method

// Encryption identifies an encryption algorithm.
type Encryption = ziptype.Encryption

// Zip64Policy controls when ZIP64 extensions are written.
type Zip64Policy = ziptype.Zip64Policy

// Tristate is a boolean that may not be known yet.
type Tristate = ziptype.Tristate

// TimestampKind records which timestamp encodings an entry carries.
type TimestampKind = ziptype.TimestampKind

// SkipCompressionFunc returns true when an entry should be stored uncompressed.
type SkipCompressionFunc = write.SkipCompressionFunc

// RetryFunc approves rewriting an entry as Store after its compressed form
// failed to shrink.
type RetryFunc = write.RetryFunc

// ProgressEvent represents a progress update for one entry.
type ProgressEvent = ziptype.ProgressEvent

// ProgressStage identifies the current phase of an operation.
type ProgressStage = ziptype.ProgressStage

// ProgressFunc receives progress updates.
type ProgressFunc = ziptype.ProgressFunc

const (
	Store   = ziptype.Store
	Deflate = ziptype.Deflate
)

const (
	EncryptionNone        = ziptype.EncryptionNone
	EncryptionWeak        = ziptype.EncryptionWeak
	EncryptionAES128      = ziptype.EncryptionAES128
	EncryptionAES256      = ziptype.EncryptionAES256
	EncryptionUnsupported = ziptype.EncryptionUnsupported
)

const (
	Zip64AsNecessary = ziptype.Zip64AsNecessary
	Zip64Never       = ziptype.Zip64Never
	Zip64Always      = ziptype.Zip64Always
)

const (
	TristateUnknown = ziptype.TristateUnknown
	TristateFalse   = ziptype.TristateFalse
	TristateTrue    = ziptype.TristateTrue
)

const (
	TimestampDOS     = ziptype.TimestampDOS
	TimestampNTFS    = ziptype.TimestampNTFS
	TimestampUnix    = ziptype.TimestampUnix
	TimestampInfoZip = ziptype.TimestampInfoZip
)

const (
	StageWriting    = ziptype.StageWriting
	StageCopying    = ziptype.StageCopying
	StageExtracting = ziptype.StageExtracting
)

// General purpose flag bits.
const (
	FlagEncrypted      = ziptype.FlagEncrypted
	FlagDataDescriptor = ziptype.FlagDataDescriptor
	FlagUTF8           = ziptype.FlagUTF8
)

// DefaultSkipCompression skips known already-compressed extensions such as
// .mp3, .png, .jpg, .zip and the Office Open XML formats.
func DefaultSkipCompression() SkipCompressionFunc {
	return write.DefaultSkipCompression()
}
