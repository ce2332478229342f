package zipentry

import "encoding/binary"

const (
	localHeaderSig    = 0x04034b50
	dataDescriptorSig = 0x08074b50
	centralHeaderSig  = 0x02014b50
	directoryEndSig   = 0x06054b50
	directory64EndSig = 0x06064b50
	directory64LocSig = 0x07064b50

	localHeaderLen    = 30
	centralHeaderLen  = 46
	directoryEndLen   = 22
	directory64EndLen = 56
	directory64LocLen = 20

	// Data descriptor bodies, after the signature.
	descriptorLen   = 12
	descriptor64Len = 20

	// Offsets inside a local header.
	versionNeededOff = 4
	crcOff           = 14

	creatorFAT  = 0
	creatorUnix = 3
)

// readBuf is a little-endian cursor over header bytes.
type readBuf []byte

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

// writeBuf is a little-endian cursor filling a preallocated buffer.
type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

func (b *writeBuf) bytes(p []byte) {
	n := copy(*b, p)
	*b = (*b)[n:]
}
