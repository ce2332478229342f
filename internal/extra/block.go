// Package extra decodes and encodes the chain of vendor sub-blocks stored in
// the extra field of local and central headers.
//
// Each block is decoded once into a typed variant and re-encoded
// deterministically; blocks with unknown ids are kept as opaque bytes so they
// survive a round trip.
package extra

import (
	"encoding/binary"
	"time"
)

// Header ids understood by the codec.
const (
	IDZip64            uint16 = 0x0001
	IDNTFS             uint16 = 0x000a
	IDStrongEncryption uint16 = 0x0017
	IDExtendedTime     uint16 = 0x5455
	IDInfoZipUnix      uint16 = 0x5855
	IDWinZipAES        uint16 = 0x9901

	// IDPlaceholder marks a reserved ZIP64 block whose sizes are not known
	// yet. Readers skip it as an unknown block.
	IDPlaceholder uint16 = 0x9999
)

// HeaderLen is the size of a block's id and length prefix.
const HeaderLen = 4

// Block is one decoded extra-field sub-block.
type Block interface {
	// ID returns the header id written before the payload.
	ID() uint16

	// Payload returns the encoded block body without the 4 byte prefix.
	Payload() []byte
}

// Zip64Fields selects which 64-bit values a ZIP64 block carries.
type Zip64Fields uint8

const (
	Zip64Uncompressed Zip64Fields = 1 << iota
	Zip64Compressed
	Zip64Offset
	Zip64Disk
)

// Zip64 is the 0x0001 block. Only the fields selected in Fields are encoded,
// always in the order uncompressed, compressed, offset, disk.
type Zip64 struct {
	Fields       Zip64Fields
	Uncompressed uint64
	Compressed   uint64
	Offset       uint64
	Disk         uint32

	// Placeholder writes the block under IDPlaceholder so it can be patched
	// in place once final sizes are known.
	Placeholder bool
}

// NewPlaceholder returns a zero-filled reserved ZIP64 block with room for
// both sizes.
func NewPlaceholder() *Zip64 {
	return &Zip64{Fields: Zip64Uncompressed | Zip64Compressed, Placeholder: true}
}

func (z *Zip64) ID() uint16 {
	if z.Placeholder {
		return IDPlaceholder
	}
	return IDZip64
}

func (z *Zip64) Payload() []byte {
	b := make([]byte, 0, 28)
	if z.Fields&Zip64Uncompressed != 0 {
		b = binary.LittleEndian.AppendUint64(b, z.Uncompressed)
	}
	if z.Fields&Zip64Compressed != 0 {
		b = binary.LittleEndian.AppendUint64(b, z.Compressed)
	}
	if z.Fields&Zip64Offset != 0 {
		b = binary.LittleEndian.AppendUint64(b, z.Offset)
	}
	if z.Fields&Zip64Disk != 0 {
		b = binary.LittleEndian.AppendUint32(b, z.Disk)
	}
	return b
}

// NTFSTimes is the 0x000a block holding 100ns Windows ticks.
type NTFSTimes struct {
	Modified time.Time
	Accessed time.Time
	Created  time.Time
}

func (*NTFSTimes) ID() uint16 { return IDNTFS }

func (n *NTFSTimes) Payload() []byte {
	b := make([]byte, 4, 32)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 24)
	b = binary.LittleEndian.AppendUint64(b, TimeToTicks(n.Modified))
	b = binary.LittleEndian.AppendUint64(b, TimeToTicks(n.Accessed))
	b = binary.LittleEndian.AppendUint64(b, TimeToTicks(n.Created))
	return b
}

// Extended timestamp flag bits.
const (
	UnixModified byte = 1 << iota
	UnixAccessed
	UnixCreated
)

// UnixTimes is the 0x5455 extended timestamp block. The flag byte always
// describes the local form; the central form carries the modification time
// only.
type UnixTimes struct {
	Flags    byte
	Modified time.Time
	Accessed time.Time
	Created  time.Time
	Central  bool
}

func (*UnixTimes) ID() uint16 { return IDExtendedTime }

func (u *UnixTimes) Payload() []byte {
	b := make([]byte, 1, 13)
	b[0] = u.Flags
	if u.Flags&UnixModified != 0 {
		b = binary.LittleEndian.AppendUint32(b, TimeToUnix(u.Modified))
	}
	if u.Central {
		return b
	}
	if u.Flags&UnixAccessed != 0 {
		b = binary.LittleEndian.AppendUint32(b, TimeToUnix(u.Accessed))
	}
	if u.Flags&UnixCreated != 0 {
		b = binary.LittleEndian.AppendUint32(b, TimeToUnix(u.Created))
	}
	return b
}

// InfoZipTimes is the legacy 0x5855 block. It is decoded but never produced
// for new entries; Raw keeps the original bytes, including any uid/gid.
type InfoZipTimes struct {
	Modified time.Time
	Accessed time.Time
	Raw      []byte
}

func (*InfoZipTimes) ID() uint16 { return IDInfoZipUnix }

func (i *InfoZipTimes) Payload() []byte { return i.Raw }

// AES key strength codes.
const (
	AESStrength128 byte = 1
	AESStrength192 byte = 2
	AESStrength256 byte = 3
)

// AES vendor versions. AE-2 entries do not store a CRC.
const (
	AEVersion1 uint16 = 1
	AEVersion2 uint16 = 2
)

// WinZipAES is the 0x9901 block. Method is the real compression method,
// hidden behind the AES marker in the header.
type WinZipAES struct {
	VendorVersion uint16
	Strength      byte
	Method        uint16
}

func (*WinZipAES) ID() uint16 { return IDWinZipAES }

func (a *WinZipAES) Payload() []byte {
	b := make([]byte, 0, 7)
	b = binary.LittleEndian.AppendUint16(b, a.VendorVersion)
	b = append(b, 'A', 'E', a.Strength)
	b = binary.LittleEndian.AppendUint16(b, a.Method)
	return b
}

// StrongEncryption is the PKWARE 0x0017 marker. Its content is kept opaque;
// entries carrying it cannot be extracted.
type StrongEncryption struct {
	Raw []byte
}

func (*StrongEncryption) ID() uint16 { return IDStrongEncryption }

func (s *StrongEncryption) Payload() []byte { return s.Raw }

// Unknown is any block the codec does not interpret.
type Unknown struct {
	Tag  uint16
	Data []byte
}

func (u *Unknown) ID() uint16 { return u.Tag }

func (u *Unknown) Payload() []byte { return u.Data }
