package zipentry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/meigma/zipentry/internal/encryption"
	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/file"
	"github.com/meigma/zipentry/internal/sizing"
	"github.com/meigma/zipentry/internal/textenc"
	"github.com/meigma/zipentry/internal/write"
	"github.com/meigma/zipentry/internal/ziptype"
)

// writeState is a step of the entry write state machine.
type writeState uint8

const (
	stateInit writeState = iota
	statePlaceholderHeader
	stateCryptoPreamble
	stateStreamData
	stateDecideRetry
	stateFinalize
	statePatchOrAppend
	stateDone
)

func (s writeState) String() string {
	switch s {
	case stateInit:
		return "init"
	case statePlaceholderHeader:
		return "placeholder-header"
	case stateCryptoPreamble:
		return "crypto-preamble"
	case stateStreamData:
		return "stream-data"
	case stateDecideRetry:
		return "decide-retry"
	case stateFinalize:
		return "finalize"
	case statePatchOrAppend:
		return "patch-or-append"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// session writes one entry. It lives for a single WriteEntry call; complete
// copies the final values back onto the entry.
//
// A Store retry loops back from stateDecideRetry to statePlaceholderHeader
// after truncating the output to the header offset. It happens at most once.
type session struct {
	w     *Writer
	entry *Entry
	fin   finalizer
	state writeState
	cycle int

	// reuse rewrites the header of an entry read from another archive
	// around its stored payload.
	reuse bool

	method        Method
	name          []byte
	utf8          bool
	flags         uint16
	dosTime       uint32
	versionNeeded uint16
	aesVersion    uint16
	headerOffset  int64

	blocks     []extra.Block
	extraBytes []byte
	zip64      *extra.Zip64

	cipher  encryption.Cipher
	framing int
	preCRC  uint32

	// pending is a source opened during init, handed to the first reader.
	pending io.ReadCloser

	result        write.Result
	crc           uint32
	compressed    uint64
	uncompressed  uint64
	requiresZip64 bool
	usedZip64     bool
	trailer       int64
}

func newSession(w *Writer, e *Entry) *session {
	return &session{
		w:     w,
		entry: e,
		reuse: e.Archive != nil,
	}
}

// run drives the state machine to completion. The context is checked
// before every transition and, through the copy loop, between chunks.
func (s *session) run(ctx context.Context) error {
	defer s.closePending()
	for s.state != stateDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch s.state {
		case stateInit:
			err = s.init()
		case statePlaceholderHeader:
			err = s.writePlaceholderHeader()
		case stateCryptoPreamble:
			err = s.writeCryptoPreamble()
		case stateStreamData:
			err = s.streamData(ctx)
		case stateDecideRetry:
			err = s.decideRetry()
		case stateFinalize:
			err = s.finalize()
		case statePatchOrAppend:
			err = s.fin.finish(s)
			if err == nil {
				s.state = stateDone
			}
		default:
			err = fmt.Errorf("unexpected write state %s", s.state)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", s.state, err)
		}
	}
	s.complete()
	return nil
}

func (s *session) init() error {
	e := s.entry
	if !s.reuse {
		switch {
		case e.Encryption == EncryptionUnsupported:
			return fmt.Errorf("%w: cannot encrypt with an unsupported scheme", ErrUnsupportedFeature)
		case e.Encryption != EncryptionNone && e.Password == "":
			return fmt.Errorf("%w: no password for encrypted entry", ErrPassword)
		}
	}

	s.name, s.utf8 = s.encodeName()
	if len(s.name) > sizing.Limit16 {
		return fmt.Errorf("%w: name is %d bytes", ErrCapacity, len(s.name))
	}
	if len(e.Comment) > sizing.Limit16 {
		return fmt.Errorf("%w: comment is %d bytes", ErrCapacity, len(e.Comment))
	}
	s.cycle = 1

	if err := s.chooseMethod(); err != nil {
		return err
	}

	keepDescriptor := s.reuse && e.Encryption == EncryptionWeak && e.HasDataDescriptor()
	if s.reuse {
		s.flags = e.Flags &^ (FlagDataDescriptor | FlagUTF8)
	}
	if s.utf8 {
		s.flags |= FlagUTF8
	}
	if e.Encryption != EncryptionNone {
		s.flags |= FlagEncrypted
	}
	if !s.w.out.CanSeek() || keepDescriptor {
		s.flags |= FlagDataDescriptor
		s.fin = descriptorFinalizer{}
	} else {
		s.fin = seekFinalizer{}
	}

	// The weak cipher's check byte was derived from the DOS time of the
	// original header, so that time must be kept verbatim.
	if keepDescriptor {
		s.dosTime = e.DOSTime
	} else {
		s.dosTime = s.timestamp()
	}

	if e.Encryption.IsAES() {
		s.aesVersion = extra.AEVersion1
		if s.reuse && e.AESVendorVersion != 0 {
			s.aesVersion = e.AESVendorVersion
		}
	}

	if e.Encryption == EncryptionWeak && !s.reuse && s.flags&FlagDataDescriptor == 0 {
		crc, err := s.sourceCRC()
		if err != nil {
			return err
		}
		s.preCRC = crc
	}

	s.state = statePlaceholderHeader
	return nil
}

// encodeName keeps the stored name bytes when they still decode to Name,
// so entries read with a legacy encoding keep it.
func (s *session) encodeName() ([]byte, bool) {
	e := s.entry
	if len(e.RawName) > 0 && textenc.Decode(e.RawName, e.UTF8, s.w.cfg.nameEncoding) == e.Name {
		return e.RawName, e.UTF8
	}
	return textenc.Encode(e.Name, s.w.cfg.nameEncoding)
}

func (s *session) timestamp() uint32 {
	e := s.entry
	if e.Modified.IsZero() {
		if e.DOSTime != 0 {
			return e.DOSTime
		}
		e.Modified = s.w.cfg.now()
	}
	return ziptype.PackDOSTime(e.Modified.In(s.w.cfg.location))
}

func (s *session) chooseMethod() error {
	e, cfg := s.entry, &s.w.cfg
	switch {
	case s.reuse:
		s.method = e.Method
		return nil
	case e.IsDir(), e.Open == nil, cfg.forceStore:
		s.method = Store
		return nil
	}

	skip := write.DefaultSkipCompression()(e.Name)
	if len(cfg.skipCompression) > 0 {
		skip = write.ShouldSkip(e.Name, cfg.skipCompression)
	}
	if skip {
		s.method = Store
		return nil
	}

	// Empty content is always stored.
	src, err := e.Open()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	br := bufio.NewReaderSize(src, len(s.w.buf))
	if _, err := br.Peek(1); err != nil {
		_ = src.Close()
		if err != io.EOF {
			return fmt.Errorf("read source: %w", err)
		}
		s.method = Store
		return nil
	}
	s.pending = struct {
		io.Reader
		io.Closer
	}{br, src}
	s.method = Deflate
	return nil
}

// openSource returns the entry content, reusing the reader opened by
// chooseMethod for the first pass.
func (s *session) openSource() (io.ReadCloser, error) {
	if s.pending != nil {
		rc := s.pending
		s.pending = nil
		return rc, nil
	}
	e := s.entry
	if e.IsDir() || e.Open == nil {
		return io.NopCloser(eofReader{}), nil
	}
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return rc, nil
}

func (s *session) closePending() {
	if s.pending != nil {
		_ = s.pending.Close()
		s.pending = nil
	}
}

// sourceCRC reads the content once so the weak cipher header can carry the
// CRC check byte.
func (s *session) sourceCRC() (uint32, error) {
	src, err := s.openSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()
	crc, _, err := file.Sum(src, s.w.buf)
	if err != nil {
		return 0, fmt.Errorf("checksum source: %w", err)
	}
	return crc, nil
}

func (s *session) writePlaceholderHeader() error {
	e, cfg := s.entry, &s.w.cfg
	s.headerOffset = s.w.out.Position()
	s.versionNeeded = ziptype.VersionDefault
	if cfg.zip64 == Zip64Always {
		s.versionNeeded = ziptype.VersionZip64
	}
	if s.reuse && e.VersionNeeded > s.versionNeeded {
		s.versionNeeded = e.VersionNeeded
	}

	s.blocks = s.localBlocks()
	b, err := extra.Encode(s.blocks)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	}
	s.extraBytes = b

	if _, err := s.w.out.Write(s.localHeader()); err != nil {
		return fmt.Errorf("write local header: %w", err)
	}

	switch {
	case s.reuse:
		s.framing = e.CryptoFramingLength
		s.state = stateStreamData
	case e.Encryption != EncryptionNone:
		s.state = stateCryptoPreamble
	default:
		s.framing = 0
		s.state = stateStreamData
	}
	return nil
}

// localBlocks assembles the extra field. The reserved ZIP64 block comes
// first so finalizers can find it right after the name.
func (s *session) localBlocks() []extra.Block {
	e, cfg := s.entry, &s.w.cfg
	var blocks []extra.Block

	s.zip64 = nil
	if cfg.zip64 != Zip64Never {
		s.zip64 = extra.NewPlaceholder()
		// Streaming output cannot patch the id later, so an always-ZIP64
		// entry announces itself up front and readers expect wide
		// descriptors.
		if cfg.zip64 == Zip64Always && s.flags&FlagDataDescriptor != 0 {
			s.zip64.Placeholder = false
		}
		blocks = append(blocks, s.zip64)
	}

	if e.Encryption.IsAES() {
		blocks = append(blocks, &extra.WinZipAES{
			VendorVersion: s.aesVersion,
			Strength:      aesStrength(e.Encryption),
			Method:        uint16(s.method),
		})
	}

	mod := e.ModTime()
	if cfg.ntfsTimes {
		blocks = append(blocks, &extra.NTFSTimes{
			Modified: mod,
			Accessed: orTime(e.Accessed, mod),
			Created:  orTime(e.Created, mod),
		})
	}
	if cfg.unixTimes {
		u := &extra.UnixTimes{Flags: extra.UnixModified, Modified: mod}
		if !e.Accessed.IsZero() {
			u.Flags |= extra.UnixAccessed
			u.Accessed = e.Accessed
		}
		if !e.Created.IsZero() {
			u.Flags |= extra.UnixCreated
			u.Created = e.Created
		}
		blocks = append(blocks, u)
	}

	return append(blocks, extra.Passthrough(e.Extra)...)
}

// localHeader encodes the header with zero CRC and sizes. Finalizers fill
// them in afterwards, in place or in a data descriptor.
func (s *session) localHeader() []byte {
	method := s.method
	if s.entry.Encryption.IsAES() {
		method = ziptype.AESMarker
	}
	buf := make([]byte, localHeaderLen+len(s.name)+len(s.extraBytes))
	b := writeBuf(buf)
	b.uint32(localHeaderSig)
	b.uint16(s.versionNeeded)
	b.uint16(s.flags)
	b.uint16(uint16(method))
	b.uint16(uint16(s.dosTime))
	b.uint16(uint16(s.dosTime >> 16))
	b.uint32(0)                         // crc
	b.uint32(0)                         // compressed size
	b.uint32(0)                         // uncompressed size
	b.uint16(uint16(len(s.name)))       //nolint:gosec // checked in init
	b.uint16(uint16(len(s.extraBytes))) //nolint:gosec // bounded by extra.Encode
	b.bytes(s.name)
	b.bytes(s.extraBytes)
	return buf
}

func (s *session) writeCryptoPreamble() error {
	e := s.entry
	c, err := encryption.NewCipher(encryption.Params{
		Algorithm: e.Encryption,
		Password:  e.Password,
		Check:     checkByte(s.flags, s.preCRC, s.dosTime),
		Rand:      s.w.cfg.rand,
	})
	if err != nil {
		return err
	}
	if err := c.WriteHeader(s.w.out); err != nil {
		return fmt.Errorf("write encryption header: %w", err)
	}
	s.cipher = c
	s.framing = c.FramingLength()
	s.state = stateStreamData
	return nil
}

func (s *session) streamData(ctx context.Context) error {
	if s.reuse {
		return s.copyPayload(ctx)
	}
	e := s.entry
	src, err := s.openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	res, err := write.Stream(ctx, src, s.w.out, write.Pipeline{
		Method:     s.method,
		Compressor: s.w.compressor,
		Cipher:     s.cipher,
		Buf:        s.w.buf,
		OnChunk: func(done uint64) {
			s.w.reportProgress(StageWriting, e.Name, done, e.UncompressedSize)
		},
	})
	if err != nil {
		return err
	}
	if e.Encryption == EncryptionWeak && s.flags&FlagDataDescriptor == 0 && res.CRC32 != s.preCRC {
		return fmt.Errorf("%w: content changed between checksum and write passes", ErrIntegrity)
	}
	s.result = res
	s.state = stateDecideRetry
	return nil
}

// copyPayload copies the stored crypto header, payload and MAC of an entry
// whose header is being rebuilt.
func (s *session) copyPayload(ctx context.Context) error {
	e := s.entry
	size, err := sizing.ToInt64(e.CompressedSize, ErrFormat)
	if err != nil {
		return err
	}
	section := io.NewSectionReader(e.Archive, e.DataOffset(), size)
	n, err := file.CopyWithContext(ctx, s.w.out, section, s.w.buf, func(done uint64) {
		s.w.reportProgress(StageCopying, e.Name, done, e.CompressedSize)
	})
	if err != nil {
		return err
	}
	if n != e.CompressedSize {
		return fmt.Errorf("%w: payload truncated after %d of %d bytes", ErrFormat, n, e.CompressedSize)
	}
	s.result = write.Result{
		CRC32:        e.CRC32,
		Uncompressed: e.UncompressedSize,
		Compressed:   uint64(e.CompressedDataSize()), //nolint:gosec // non-negative
		Written:      n - uint64(s.framing),          //nolint:gosec // framing is at most 18
	}
	s.state = stateFinalize
	return nil
}

func (s *session) decideRetry() error {
	e := s.entry
	retry := write.ShouldRetry(write.RetryInput{
		Name:         e.Name,
		Cycle:        s.cycle,
		Seekable:     s.w.out.CanSeek(),
		Method:       s.method,
		Uncompressed: s.result.Uncompressed,
		Compressed:   s.result.Compressed,
		Approve:      s.w.cfg.retry,
	})
	if !retry {
		s.state = stateFinalize
		return nil
	}

	s.w.log().Info("compression did not shrink entry, storing instead",
		"name", e.Name,
		"uncompressed", s.result.Uncompressed,
		"compressed", s.result.Compressed)
	if _, err := s.w.out.Seek(s.headerOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to local header: %w", err)
	}
	if err := s.w.out.SetLength(s.headerOffset); err != nil {
		return fmt.Errorf("truncate output: %w", err)
	}
	s.cycle++
	s.method = Store
	s.cipher = nil
	s.state = statePlaceholderHeader
	return nil
}

// finalize settles CRC, sizes and the ZIP64 decision.
func (s *session) finalize() error {
	e, cfg := s.entry, &s.w.cfg
	s.compressed = uint64(s.framing) + s.result.Written //nolint:gosec // framing is at most 18
	s.uncompressed = s.result.Uncompressed
	s.crc = s.result.CRC32
	if e.Encryption.IsAES() && s.aesVersion == extra.AEVersion2 {
		s.crc = 0
	}

	offset := uint64(s.headerOffset) //nolint:gosec // positions are non-negative
	s.requiresZip64 = sizing.Needs64(s.compressed) || sizing.Needs64(s.uncompressed) || sizing.Needs64(offset)
	s.usedZip64 = cfg.zip64 == Zip64Always || s.requiresZip64
	if cfg.zip64 == Zip64Never && s.requiresZip64 {
		return fmt.Errorf("%w: entry needs zip64 (compressed %d, uncompressed %d, offset %d)",
			ErrCapacity, s.compressed, s.uncompressed, offset)
	}
	if s.usedZip64 && s.versionNeeded < ziptype.VersionZip64 {
		s.versionNeeded = ziptype.VersionZip64
	}
	s.state = statePatchOrAppend
	return nil
}

// complete copies the written header values back onto the entry.
func (s *session) complete() {
	e, cfg := s.entry, &s.w.cfg
	e.RawName, e.UTF8 = s.name, s.utf8
	e.Flags = s.flags
	e.VersionNeeded = s.versionNeeded
	if e.VersionMadeBy == 0 {
		e.VersionMadeBy = defaultMadeBy(e)
	}
	e.Method = s.method
	e.DOSTime = s.dosTime
	e.CRC32 = s.crc
	e.CompressedSize = s.compressed
	e.UncompressedSize = s.uncompressed
	e.LocalHeaderOffset = uint64(s.headerOffset) //nolint:gosec // positions are non-negative
	e.AESVendorVersion = s.aesVersion
	e.CryptoFramingLength = s.framing
	e.HeaderLength = int64(localHeaderLen + len(s.name) + len(s.extraBytes) + s.framing)
	e.TrailerLength = s.trailer
	e.TotalLength = e.HeaderLength - int64(s.framing) + int64(s.compressed) + s.trailer //nolint:gosec // bounded by output size
	e.RequiresZip64 = TristateOf(s.requiresZip64)
	e.OutputUsedZip64 = TristateOf(s.usedZip64)

	e.Extra = e.Extra[:0:0]
	for _, b := range s.blocks {
		if z, ok := b.(*extra.Zip64); ok && z.Placeholder {
			continue
		}
		e.Extra = append(e.Extra, b)
	}
	e.Timestamps = ziptype.TimestampDOS
	if cfg.ntfsTimes {
		e.Timestamps |= ziptype.TimestampNTFS
	}
	if cfg.unixTimes {
		e.Timestamps |= ziptype.TimestampUnix
	}
	if _, ok := extra.Find[*extra.InfoZipTimes](e.Extra); ok {
		e.Timestamps |= ziptype.TimestampInfoZip
	}
	e.Dirty = false
	e.Archive = nil

	s.w.log().Debug("entry written",
		"name", e.Name,
		"method", e.Method,
		"offset", e.LocalHeaderOffset,
		"compressed", e.CompressedSize,
		"uncompressed", e.UncompressedSize,
		"zip64", s.usedZip64,
		"cycles", s.cycle)
}

func aesStrength(alg Encryption) byte {
	if alg == EncryptionAES128 {
		return extra.AESStrength128
	}
	return extra.AESStrength256
}

func orTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// defaultMadeBy reports Unix as the creator when the entry carries Unix
// mode bits, FAT otherwise.
func defaultMadeBy(e *Entry) uint16 {
	creator := uint16(creatorFAT)
	if e.ExternalAttrs>>16 != 0 {
		creator = creatorUnix
	}
	return creator<<8 | ziptype.VersionZip64
}
