package zipentry

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/sizing"
)

// finalizer records CRC and sizes once an entry's payload is written.
// One is chosen per session from whether the output can seek.
type finalizer interface {
	finish(s *session) error
}

// seekFinalizer patches the local header in place and converts the
// reserved block into a real ZIP64 block when needed.
type seekFinalizer struct{}

func (seekFinalizer) finish(s *session) error {
	out := s.w.out
	end := out.Position()

	var version [2]byte
	binary.LittleEndian.PutUint16(version[:], s.versionNeeded)
	if err := patchAt(out, s.headerOffset+versionNeededOff, version[:]); err != nil {
		return err
	}

	var fields [12]byte
	b := writeBuf(fields[:])
	b.uint32(s.crc)
	b.uint32(sizing.Field32(s.compressed, s.usedZip64))
	b.uint32(sizing.Field32(s.uncompressed, s.usedZip64))
	if err := patchAt(out, s.headerOffset+crcOff, fields[:]); err != nil {
		return err
	}

	if s.usedZip64 {
		if s.zip64 == nil {
			return fmt.Errorf("%w: no room reserved for zip64 sizes", ErrCapacity)
		}
		s.zip64.Placeholder = false
		s.zip64.Uncompressed = s.uncompressed
		s.zip64.Compressed = s.compressed
		block, err := extra.Encode([]extra.Block{s.zip64})
		if err != nil {
			return err
		}
		if err := patchAt(out, s.headerOffset+localHeaderLen+int64(len(s.name)), block); err != nil {
			return err
		}
	}

	if _, err := out.Seek(end, io.SeekStart); err != nil {
		return fmt.Errorf("seek to end of entry: %w", err)
	}
	s.trailer = 0
	return nil
}

// descriptorFinalizer appends a signed data descriptor. Sizes are 8 bytes
// wide when the entry uses ZIP64.
type descriptorFinalizer struct{}

func (descriptorFinalizer) finish(s *session) error {
	width := descriptorLen
	if s.usedZip64 {
		width = descriptor64Len
	}
	buf := make([]byte, 4+width)
	b := writeBuf(buf)
	b.uint32(dataDescriptorSig)
	b.uint32(s.crc)
	if s.usedZip64 {
		b.uint64(s.compressed)
		b.uint64(s.uncompressed)
	} else {
		b.uint32(uint32(s.compressed))   //nolint:gosec // below 2^32 without zip64
		b.uint32(uint32(s.uncompressed)) //nolint:gosec // below 2^32 without zip64
	}
	if _, err := s.w.out.Write(buf); err != nil {
		return fmt.Errorf("write data descriptor: %w", err)
	}
	s.trailer = int64(len(buf))
	return nil
}

func patchAt(out io.WriteSeeker, off int64, p []byte) error {
	if _, err := out.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", off, err)
	}
	if _, err := out.Write(p); err != nil {
		return fmt.Errorf("patch header at %d: %w", off, err)
	}
	return nil
}
