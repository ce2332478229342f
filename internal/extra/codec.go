package extra

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a block's declared size does not match
	// the bytes available or the layout its id requires.
	ErrMalformed = errors.New("malformed extra field")

	// ErrTooLarge is returned when an encoded extra field exceeds 65535 bytes.
	ErrTooLarge = errors.New("extra field too large")
)

// MaxLen is the largest extra field a header can describe.
const MaxLen = 0xffff

// Expect tells Decode which ZIP64 values are present. A ZIP64 block only
// carries the fields whose 32-bit header counterpart held the 0xFFFFFFFF
// sentinel.
type Expect struct {
	Uncompressed bool
	Compressed   bool
	Offset       bool
	Disk         bool

	// Central is set when decoding a central directory record.
	Central bool
}

// Decode splits data into typed blocks. Trailing bytes too short to hold a
// block header are ignored; several archivers pad the extra field.
func Decode(data []byte, want Expect) ([]Block, error) {
	var blocks []Block
	for len(data) >= HeaderLen {
		id := binary.LittleEndian.Uint16(data)
		size := int(binary.LittleEndian.Uint16(data[2:]))
		data = data[HeaderLen:]
		if size > len(data) {
			return nil, fmt.Errorf("block 0x%04x: size %d exceeds %d remaining bytes: %w", id, size, len(data), ErrMalformed)
		}
		payload := data[:size:size]
		data = data[size:]

		b, err := decodeBlock(id, payload, want)
		if err != nil {
			return nil, fmt.Errorf("block 0x%04x: %w", id, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func decodeBlock(id uint16, p []byte, want Expect) (Block, error) {
	switch id {
	case IDZip64:
		return decodeZip64(p, want)
	case IDNTFS:
		return decodeNTFS(p)
	case IDExtendedTime:
		return decodeUnixTimes(p, want.Central)
	case IDInfoZipUnix:
		return decodeInfoZip(p)
	case IDWinZipAES:
		return decodeAES(p)
	case IDStrongEncryption:
		return &StrongEncryption{Raw: clone(p)}, nil
	default:
		return &Unknown{Tag: id, Data: clone(p)}, nil
	}
}

func decodeZip64(p []byte, want Expect) (*Zip64, error) {
	z := &Zip64{}
	next := func(field Zip64Fields, width int) (uint64, error) {
		if len(p) < width {
			return 0, fmt.Errorf("zip64 field needs %d bytes, have %d: %w", width, len(p), ErrMalformed)
		}
		z.Fields |= field
		var v uint64
		if width == 8 {
			v = binary.LittleEndian.Uint64(p)
		} else {
			v = uint64(binary.LittleEndian.Uint32(p))
		}
		p = p[width:]
		return v, nil
	}
	var err error
	if want.Uncompressed {
		if z.Uncompressed, err = next(Zip64Uncompressed, 8); err != nil {
			return nil, err
		}
	}
	if want.Compressed {
		if z.Compressed, err = next(Zip64Compressed, 8); err != nil {
			return nil, err
		}
	}
	if want.Offset {
		if z.Offset, err = next(Zip64Offset, 8); err != nil {
			return nil, err
		}
	}
	if want.Disk {
		var d uint64
		if d, err = next(Zip64Disk, 4); err != nil {
			return nil, err
		}
		z.Disk = uint32(d) //nolint:gosec // read from a 4 byte field
	}
	return z, nil
}

func decodeNTFS(p []byte) (*NTFSTimes, error) {
	if len(p) != 32 {
		return nil, fmt.Errorf("ntfs payload is %d bytes, want 32: %w", len(p), ErrMalformed)
	}
	tag := binary.LittleEndian.Uint16(p[4:])
	size := binary.LittleEndian.Uint16(p[6:])
	if tag != 1 || size != 24 {
		return nil, fmt.Errorf("ntfs attribute tag %d size %d: %w", tag, size, ErrMalformed)
	}
	return &NTFSTimes{
		Modified: TicksToTime(binary.LittleEndian.Uint64(p[8:])),
		Accessed: TicksToTime(binary.LittleEndian.Uint64(p[16:])),
		Created:  TicksToTime(binary.LittleEndian.Uint64(p[24:])),
	}, nil
}

func decodeUnixTimes(p []byte, central bool) (*UnixTimes, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("extended timestamp has no flags: %w", ErrMalformed)
	}
	u := &UnixTimes{Flags: p[0], Central: central}
	p = p[1:]
	read := func(flag byte, dst *uint32) {
		if u.Flags&flag == 0 || len(p) < 4 {
			return
		}
		*dst = binary.LittleEndian.Uint32(p)
		p = p[4:]
	}
	var m, a, c uint32
	read(UnixModified, &m)
	read(UnixAccessed, &a)
	read(UnixCreated, &c)
	if u.Flags&UnixModified != 0 && m != 0 {
		u.Modified = UnixToTime(m)
	}
	if a != 0 {
		u.Accessed = UnixToTime(a)
	}
	if c != 0 {
		u.Created = UnixToTime(c)
	}
	return u, nil
}

func decodeInfoZip(p []byte) (*InfoZipTimes, error) {
	if len(p) < 8 {
		return nil, fmt.Errorf("info-zip unix payload is %d bytes: %w", len(p), ErrMalformed)
	}
	return &InfoZipTimes{
		Modified: UnixToTime(binary.LittleEndian.Uint32(p)),
		Accessed: UnixToTime(binary.LittleEndian.Uint32(p[4:])),
		Raw:      clone(p),
	}, nil
}

func decodeAES(p []byte) (*WinZipAES, error) {
	if len(p) != 7 {
		return nil, fmt.Errorf("winzip aes payload is %d bytes, want 7: %w", len(p), ErrMalformed)
	}
	if p[2] != 'A' || p[3] != 'E' {
		return nil, fmt.Errorf("winzip aes vendor %q: %w", p[2:4], ErrMalformed)
	}
	a := &WinZipAES{
		VendorVersion: binary.LittleEndian.Uint16(p),
		Strength:      p[4],
		Method:        binary.LittleEndian.Uint16(p[5:]),
	}
	if a.Strength < AESStrength128 || a.Strength > AESStrength256 {
		return nil, fmt.Errorf("winzip aes strength %d: %w", a.Strength, ErrMalformed)
	}
	return a, nil
}

// Encode writes blocks in the order given.
func Encode(blocks []Block) ([]byte, error) {
	var out []byte
	for _, b := range blocks {
		p := b.Payload()
		if len(p) > MaxLen-HeaderLen {
			return nil, fmt.Errorf("block 0x%04x: payload %d bytes: %w", b.ID(), len(p), ErrTooLarge)
		}
		out = binary.LittleEndian.AppendUint16(out, b.ID())
		out = binary.LittleEndian.AppendUint16(out, uint16(len(p))) //nolint:gosec // bounded above
		out = append(out, p...)
	}
	if len(out) > MaxLen {
		return nil, fmt.Errorf("%d bytes: %w", len(out), ErrTooLarge)
	}
	return out, nil
}

// Find returns the first block of type T in blocks.
func Find[T Block](blocks []Block) (T, bool) {
	for _, b := range blocks {
		if v, ok := b.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Passthrough returns the blocks a rewriter should carry forward verbatim:
// unknown ids, strong encryption markers and legacy Info-ZIP times.
func Passthrough(blocks []Block) []Block {
	var out []Block
	for _, b := range blocks {
		switch v := b.(type) {
		case *Unknown:
			if v.Tag == IDPlaceholder {
				continue
			}
			out = append(out, b)
		case *StrongEncryption, *InfoZipTimes:
			out = append(out, b)
		}
	}
	return out
}

func clone(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	return append([]byte(nil), p...)
}
