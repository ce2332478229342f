package zipentry

import (
	"fmt"

	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/sizing"
	"github.com/meigma/zipentry/internal/ziptype"
)

// appendCentralRecord appends the central directory record for a finished
// entry to dst.
//
// Sizes move into a ZIP64 block whenever the local header used one, so the
// two records agree. The local header offset joins them when it exceeds the
// 32-bit limit.
func appendCentralRecord(dst []byte, e *Entry, policy Zip64Policy) ([]byte, error) {
	offset := e.LocalHeaderOffset
	needs := sizing.Needs64(e.CompressedSize) || sizing.Needs64(e.UncompressedSize) || sizing.Needs64(offset)
	if policy == Zip64Never && needs {
		return dst, fmt.Errorf("%w: central record needs zip64", ErrCapacity)
	}
	sizes64 := policy != Zip64Never && (e.OutputUsedZip64.True() ||
		sizing.Needs64(e.CompressedSize) || sizing.Needs64(e.UncompressedSize))
	offset64 := sizing.Needs64(offset)

	var blocks []extra.Block
	if sizes64 || offset64 {
		z := &extra.Zip64{Uncompressed: e.UncompressedSize, Compressed: e.CompressedSize, Offset: offset}
		if sizes64 {
			z.Fields |= extra.Zip64Uncompressed | extra.Zip64Compressed
		}
		if offset64 {
			z.Fields |= extra.Zip64Offset
		}
		blocks = append(blocks, z)
	}
	blocks = append(blocks, centralBlocks(e.Extra)...)
	extraBytes, err := extra.Encode(blocks)
	if err != nil {
		return dst, fmt.Errorf("%w: %w", ErrCapacity, err)
	}
	if len(e.RawName) > sizing.Limit16 || len(e.Comment) > sizing.Limit16 {
		return dst, fmt.Errorf("%w: name or comment longer than %d bytes", ErrCapacity, sizing.Limit16)
	}

	versionNeeded := e.VersionNeeded
	if versionNeeded == 0 {
		versionNeeded = ziptype.VersionDefault
	}
	if (sizes64 || offset64) && versionNeeded < ziptype.VersionZip64 {
		versionNeeded = ziptype.VersionZip64
	}
	madeBy := e.VersionMadeBy
	if madeBy == 0 {
		madeBy = defaultMadeBy(e)
	}
	method := e.Method
	if e.Encryption.IsAES() {
		method = ziptype.AESMarker
	}

	n := len(dst)
	dst = append(dst, make([]byte, centralHeaderLen)...)
	b := writeBuf(dst[n:])
	b.uint32(centralHeaderSig)
	b.uint16(madeBy)
	b.uint16(versionNeeded)
	b.uint16(e.Flags)
	b.uint16(uint16(method))
	b.uint16(uint16(e.DOSTime))
	b.uint16(uint16(e.DOSTime >> 16))
	b.uint32(e.CRC32)
	b.uint32(sizing.Field32(e.CompressedSize, sizes64))
	b.uint32(sizing.Field32(e.UncompressedSize, sizes64))
	b.uint16(uint16(len(e.RawName)))  //nolint:gosec // checked above
	b.uint16(uint16(len(extraBytes))) //nolint:gosec // bounded by extra.Encode
	b.uint16(uint16(len(e.Comment)))  //nolint:gosec // checked above
	b.uint16(0)                       // disk number start
	b.uint16(e.InternalAttrs)
	b.uint32(e.ExternalAttrs)
	b.uint32(sizing.Field32(offset, offset64))
	dst = append(dst, e.RawName...)
	dst = append(dst, extraBytes...)
	return append(dst, e.Comment...), nil
}

// centralBlocks returns the blocks of a local extra field that belong in
// the central record. ZIP64 data is rebuilt by the caller and extended
// timestamps shrink to their central form.
func centralBlocks(local []extra.Block) []extra.Block {
	var out []extra.Block
	for _, b := range local {
		switch v := b.(type) {
		case *extra.Zip64:
			continue
		case *extra.Unknown:
			if v.Tag == extra.IDPlaceholder {
				continue
			}
			out = append(out, v)
		case *extra.UnixTimes:
			c := *v
			c.Central = true
			out = append(out, &c)
		default:
			out = append(out, b)
		}
	}
	return out
}

// writeDirectory writes the central directory followed by the end records.
func (w *Writer) writeDirectory() error {
	start := w.out.Position()
	var buf []byte
	for _, e := range w.entries {
		var err error
		buf, err = appendCentralRecord(buf[:0], e, w.cfg.zip64)
		if err != nil {
			return entryErr("write central record", e, int64(e.LocalHeaderOffset), err) //nolint:gosec // offsets come from int64 positions
		}
		if _, err := w.out.Write(buf); err != nil {
			return err
		}
	}
	end := w.out.Position()

	count := uint64(len(w.entries))
	size := uint64(end - start) //nolint:gosec // end >= start
	offset := uint64(start)     //nolint:gosec // positions are non-negative
	needs := count >= sizing.Limit16 || sizing.Needs64(size) || sizing.Needs64(offset)
	if needs && w.cfg.zip64 == Zip64Never {
		return fmt.Errorf("%w: central directory needs zip64 (%d entries, %d bytes at %d)", ErrCapacity, count, size, offset)
	}
	if len(w.cfg.comment) > sizing.Limit16 {
		return fmt.Errorf("%w: archive comment is %d bytes", ErrCapacity, len(w.cfg.comment))
	}

	var records []byte
	if needs || w.cfg.zip64 == Zip64Always {
		records = make([]byte, directory64EndLen+directory64LocLen)
		b := writeBuf(records)
		b.uint32(directory64EndSig)
		b.uint64(directory64EndLen - 12) // size of the rest of the record
		b.uint16(ziptype.VersionZip64)
		b.uint16(ziptype.VersionZip64)
		b.uint32(0) // this disk
		b.uint32(0) // disk with the directory
		b.uint64(count)
		b.uint64(count)
		b.uint64(size)
		b.uint64(offset)

		b.uint32(directory64LocSig)
		b.uint32(0)           // disk with the zip64 end record
		b.uint64(uint64(end)) //nolint:gosec // positions are non-negative
		b.uint32(1)           // total disks
	}

	eocd := make([]byte, directoryEndLen+len(w.cfg.comment))
	b := writeBuf(eocd)
	b.uint32(directoryEndSig)
	b.uint16(0) // this disk
	b.uint16(0) // disk with the directory
	// With ZIP64 records present the classic fields only point to them.
	zip64 := len(records) > 0
	records16 := uint16(sizing.Limit16)
	if !zip64 {
		records16 = uint16(count) //nolint:gosec // below Limit16 without zip64
	}
	b.uint16(records16)
	b.uint16(records16)
	b.uint32(sizing.Field32(size, zip64))
	b.uint32(sizing.Field32(offset, zip64))
	b.uint16(uint16(len(w.cfg.comment))) //nolint:gosec // checked above
	b.bytes([]byte(w.cfg.comment))

	if _, err := w.out.Write(append(records, eocd...)); err != nil {
		return err
	}
	w.log().Debug("central directory written",
		"entries", count,
		"offset", offset,
		"size", size,
		"zip64", zip64)
	return nil
}
