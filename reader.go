package zipentry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/meigma/zipentry/internal/encryption"
	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/file"
	"github.com/meigma/zipentry/internal/sizing"
	"github.com/meigma/zipentry/internal/textenc"
	"github.com/meigma/zipentry/internal/ziptype"
)

// Reader parses local headers and extracts entries from a Source.
//
// Header parsing is metadata only: nothing is decrypted or CRC-checked until
// Open. A Reader is not safe for concurrent use, but readers returned by Open
// use independent section readers and may be consumed in any order.
type Reader struct {
	src      Source
	cfg      readerConfig
	decoders *file.DecompressPool

	next int64
	done bool
}

// NewReader creates a Reader for src.
func NewReader(src Source, opts ...ReaderOption) *Reader {
	cfg := defaultReaderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Reader{
		src:      src,
		cfg:      cfg,
		decoders: file.NewDecompressPool(),
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Reader) log() *slog.Logger {
	if r.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.cfg.logger
}

// Next returns the entry following the previous one, starting at offset 0.
// It returns io.EOF once the central directory or the end of the source is
// reached.
func (r *Reader) Next() (*Entry, error) {
	if r.done {
		return nil, io.EOF
	}
	e, err := r.ReadLocalHeader(r.next)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.done = true
		}
		return nil, err
	}
	r.next = int64(e.LocalHeaderOffset) + e.TotalLength //nolint:gosec // offsets come from int64 positions
	return e, nil
}

// ReadLocalHeader parses the local header at offset.
//
// It returns io.EOF when offset holds a central directory or end record
// instead of a local header, or lies exactly at the end of the source.
// Other signatures fail with ErrFormat.
func (r *Reader) ReadLocalHeader(offset int64) (*Entry, error) {
	e, err := r.readLocalHeader(offset)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, entryErr("read header", e, offset, err)
	}
	return e, nil
}

func (r *Reader) readLocalHeader(offset int64) (*Entry, error) {
	if offset == r.src.Size() {
		return nil, io.EOF
	}
	var fixed [localHeaderLen]byte
	if err := r.readFull(fixed[:4], offset); err != nil {
		return nil, fmt.Errorf("%w: read signature: %w", ErrFormat, err)
	}
	switch sig := binary.LittleEndian.Uint32(fixed[:4]); sig {
	case localHeaderSig:
	case centralHeaderSig, directoryEndSig, directory64EndSig:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: signature 0x%08x", ErrFormat, sig)
	}
	if err := r.readFull(fixed[4:], offset+4); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrFormat, err)
	}

	b := readBuf(fixed[4:])
	e := &Entry{
		Archive:           r.src,
		LocalHeaderOffset: uint64(offset), //nolint:gosec // offset is non-negative
		Timestamps:        ziptype.TimestampDOS,
	}
	e.VersionNeeded = b.uint16()
	e.Flags = b.uint16()
	e.Method = Method(b.uint16())
	dosTime := b.uint16()
	dosDate := b.uint16()
	e.DOSTime = uint32(dosDate)<<16 | uint32(dosTime)
	e.CRC32 = b.uint32()
	csize32 := b.uint32()
	usize32 := b.uint32()
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	e.CompressedSize = uint64(csize32)
	e.UncompressedSize = uint64(usize32)

	varLen := make([]byte, nameLen+extraLen)
	if err := r.readFull(varLen, offset+localHeaderLen); err != nil {
		return e, fmt.Errorf("%w: read name and extra field: %w", ErrFormat, err)
	}
	e.RawName = varLen[:nameLen:nameLen]
	e.UTF8 = e.Flags&ziptype.FlagUTF8 != 0
	e.Name = textenc.Decode(e.RawName, e.UTF8, r.cfg.nameEncoding)

	blocks, err := extra.Decode(varLen[nameLen:], extra.Expect{
		Uncompressed: usize32 == ziptype.Sentinel32,
		Compressed:   csize32 == ziptype.Sentinel32,
	})
	if err != nil {
		return e, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	e.Extra = blocks
	r.applyExtra(e, blocks)

	e.CryptoFramingLength = encryption.FramingLength(e.Encryption)
	dataStart := offset + localHeaderLen + int64(nameLen+extraLen)
	e.HeaderLength = dataStart - offset + int64(e.CryptoFramingLength)

	switch {
	case e.HasDataDescriptor() && e.IsDir():
		e.TrailerLength = r.directoryDescriptor(e, dataStart)
	case e.HasDataDescriptor():
		if err := r.scanDescriptor(e, dataStart); err != nil {
			return e, err
		}
	default:
		csize, err := sizing.ToInt64(e.CompressedSize, ErrFormat)
		if err != nil {
			return e, err
		}
		e.TrailerLength = r.probeUnsignedDescriptor(e, dataStart+csize)
	}
	e.TotalLength = dataStart - offset + int64(e.CompressedSize) + e.TrailerLength //nolint:gosec // bounded by source size
	return e, nil
}

// applyExtra copies decoded block values onto e. NTFS times win over
// extended Unix times, which win over the legacy Info-ZIP block.
func (r *Reader) applyExtra(e *Entry, blocks []extra.Block) {
	var (
		ntfs   *extra.NTFSTimes
		unix   *extra.UnixTimes
		infoZ  *extra.InfoZipTimes
		aes    *extra.WinZipAES
		strong bool
	)
	for _, b := range blocks {
		switch v := b.(type) {
		case *extra.Zip64:
			e.InputUsedZip64 = true
			if v.Fields&extra.Zip64Uncompressed != 0 {
				e.UncompressedSize = v.Uncompressed
			}
			if v.Fields&extra.Zip64Compressed != 0 {
				e.CompressedSize = v.Compressed
			}
		case *extra.NTFSTimes:
			ntfs = v
			e.Timestamps |= ziptype.TimestampNTFS
		case *extra.UnixTimes:
			unix = v
			e.Timestamps |= ziptype.TimestampUnix
		case *extra.InfoZipTimes:
			infoZ = v
			e.Timestamps |= ziptype.TimestampInfoZip
		case *extra.WinZipAES:
			aes = v
		case *extra.StrongEncryption:
			strong = true
		}
	}

	switch {
	case ntfs != nil:
		e.Modified, e.Accessed, e.Created = ntfs.Modified, ntfs.Accessed, ntfs.Created
	case unix != nil:
		e.Modified, e.Accessed, e.Created = unix.Modified, unix.Accessed, unix.Created
	case infoZ != nil:
		e.Modified, e.Accessed = infoZ.Modified, infoZ.Accessed
	default:
		e.Modified = ziptype.UnpackDOSTime(e.DOSTime, r.cfg.location)
	}

	if e.Flags&ziptype.FlagEncrypted == 0 {
		return
	}
	switch {
	case e.Method == ziptype.AESMarker && aes != nil:
		e.Method = Method(aes.Method)
		e.AESVendorVersion = aes.VendorVersion
		switch aes.Strength {
		case extra.AESStrength128:
			e.Encryption = EncryptionAES128
		case extra.AESStrength256:
			e.Encryption = EncryptionAES256
		default:
			e.Encryption = EncryptionUnsupported
		}
	case strong || e.Flags&ziptype.FlagStrongEncrypt != 0 || e.Method == ziptype.AESMarker:
		e.Encryption = EncryptionUnsupported
	default:
		e.Encryption = EncryptionWeak
	}
}

// scanDescriptor recovers CRC and sizes for an entry that stores them after
// its data. The signature can occur inside compressed data, so a candidate
// is accepted only when its compressed size equals the number of bytes
// between the end of the header and the signature. Scanning resumes one
// byte past a rejected signature, so a real signature overlapping the
// rejected candidate is still found.
func (r *Reader) scanDescriptor(e *Entry, dataStart int64) error {
	widths := [2]int{descriptorLen, descriptor64Len}
	if e.InputUsedZip64 {
		widths = [2]int{descriptor64Len, descriptorLen}
	}

	pos := dataStart
	candidates := 0
	for {
		sigPos, err := r.findSignature(pos, dataDescriptorSig)
		if err != nil {
			return err
		}
		candidates++
		consumed := uint64(sigPos - dataStart) //nolint:gosec // sigPos >= dataStart
		for _, width := range widths {
			var body [descriptor64Len]byte
			if err := r.readFull(body[:width], sigPos+4); err != nil {
				continue
			}
			b := readBuf(body[:width])
			crc := b.uint32()
			var csize, usize uint64
			if width == descriptor64Len {
				csize, usize = b.uint64(), b.uint64()
			} else {
				csize, usize = uint64(b.uint32()), uint64(b.uint32())
			}
			if csize != consumed {
				continue
			}
			e.CRC32, e.CompressedSize, e.UncompressedSize = crc, csize, usize
			e.TrailerLength = int64(4 + width)
			r.log().Debug("data descriptor found",
				"name", e.Name,
				"offset", sigPos,
				"candidates", candidates,
				"width", width)
			return nil
		}
		pos = sigPos + 1
	}
}

// findSignature returns the position of the next sig at or after from.
func (r *Reader) findSignature(from int64, sig uint32) (int64, error) {
	var pattern [4]byte
	binary.LittleEndian.PutUint32(pattern[:], sig)
	buf := make([]byte, max(r.cfg.bufferSize, 64))
	for {
		n, err := r.src.ReadAt(buf, from)
		if i := bytes.Index(buf[:n], pattern[:]); i >= 0 {
			return from + int64(i), nil
		}
		if err != nil && err != io.EOF {
			return -1, err
		}
		if n < len(buf) {
			return -1, fmt.Errorf("%w: data descriptor signature not found", ErrFormat)
		}
		from += int64(n - len(pattern) + 1)
	}
}

// directoryDescriptor returns the length of a signed descriptor directly
// following a directory header, or 0 when there is none.
func (r *Reader) directoryDescriptor(e *Entry, pos int64) int64 {
	var sig [4]byte
	if r.readFull(sig[:], pos) != nil || binary.LittleEndian.Uint32(sig[:]) != dataDescriptorSig {
		return 0
	}
	if e.InputUsedZip64 {
		return 4 + descriptor64Len
	}
	return 4 + descriptorLen
}

// probeUnsignedDescriptor checks for a data descriptor written without its
// signature after an entry that did not announce one. The fields are tested
// in order (CRC, then compressed size, then uncompressed size); the first
// mismatch means there is no descriptor and nothing is consumed.
func (r *Reader) probeUnsignedDescriptor(e *Entry, pos int64) int64 {
	var b [descriptorLen]byte
	if r.readFull(b[:4], pos) != nil || binary.LittleEndian.Uint32(b[:4]) != e.CRC32 {
		return 0
	}
	if r.readFull(b[4:8], pos+4) != nil || uint64(binary.LittleEndian.Uint32(b[4:8])) != e.CompressedSize {
		return 0
	}
	if r.readFull(b[8:], pos+8) != nil || uint64(binary.LittleEndian.Uint32(b[8:])) != e.UncompressedSize {
		return 0
	}
	r.log().Debug("unsigned data descriptor skipped", "name", e.Name, "offset", pos)
	return descriptorLen
}

func (r *Reader) readFull(p []byte, off int64) error {
	n, err := r.src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
