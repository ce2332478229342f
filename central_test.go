package zipentry

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/stream"
)

func decodeCentralExtra(t *testing.T, rec []byte) []extra.Block {
	t.Helper()
	nameLen := int(binary.LittleEndian.Uint16(rec[28:]))
	extraLen := int(binary.LittleEndian.Uint16(rec[30:]))
	raw := rec[centralHeaderLen+nameLen : centralHeaderLen+nameLen+extraLen]
	blocks, err := extra.Decode(raw, extra.Expect{
		Uncompressed: binary.LittleEndian.Uint32(rec[24:]) == 0xffffffff,
		Compressed:   binary.LittleEndian.Uint32(rec[20:]) == 0xffffffff,
		Offset:       binary.LittleEndian.Uint32(rec[42:]) == 0xffffffff,
		Central:      true,
	})
	require.NoError(t, err)
	return blocks
}

func TestCentralRecordLargeOffset(t *testing.T) {
	t.Parallel()

	e := &Entry{
		Name:              "far.txt",
		RawName:           []byte("far.txt"),
		VersionNeeded:     20,
		CRC32:             0x12345678,
		CompressedSize:    10,
		UncompressedSize:  20,
		LocalHeaderOffset: 5 << 30,
		Method:            Deflate,
		OutputUsedZip64:   TristateFalse,
		Comment:           []byte("note"),
		ExternalAttrs:     0o100644 << 16,
	}
	rec, err := appendCentralRecord(nil, e, Zip64AsNecessary)
	require.NoError(t, err)

	assert.Equal(t, uint32(centralHeaderSig), binary.LittleEndian.Uint32(rec))
	assert.Equal(t, uint16(creatorUnix<<8|45), binary.LittleEndian.Uint16(rec[4:]))
	assert.Equal(t, uint16(45), binary.LittleEndian.Uint16(rec[6:]))
	assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(rec[20:]))
	assert.Equal(t, uint32(20), binary.LittleEndian.Uint32(rec[24:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(rec[32:]))
	assert.Equal(t, uint32(0o100644<<16), binary.LittleEndian.Uint32(rec[38:]))
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(rec[42:]))
	assert.True(t, bytes.HasSuffix(rec, []byte("note")))

	z, ok := extra.Find[*extra.Zip64](decodeCentralExtra(t, rec))
	require.True(t, ok)
	assert.Equal(t, extra.Zip64Offset, z.Fields)
	assert.Equal(t, uint64(5<<30), z.Offset)

	_, err = appendCentralRecord(nil, e, Zip64Never)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestCentralRecordMirrorsLocalZip64(t *testing.T) {
	t.Parallel()

	e := &Entry{
		Name:             "big.bin",
		RawName:          []byte("big.bin"),
		VersionNeeded:    45,
		CompressedSize:   100,
		UncompressedSize: 1 << 33,
		OutputUsedZip64:  TristateTrue,
		Extra: []extra.Block{
			&extra.Zip64{Fields: extra.Zip64Uncompressed | extra.Zip64Compressed, Uncompressed: 1 << 33, Compressed: 100},
			&extra.UnixTimes{Flags: extra.UnixModified | extra.UnixAccessed, Modified: fixedTime, Accessed: fixedTime},
			&extra.Unknown{Tag: extra.IDPlaceholder, Data: make([]byte, 16)},
			&extra.Unknown{Tag: 0xcafe, Data: []byte{1}},
		},
	}
	rec, err := appendCentralRecord(nil, e, Zip64AsNecessary)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(rec[20:]))
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(rec[24:]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(rec[42:]))

	blocks := decodeCentralExtra(t, rec)
	require.Len(t, blocks, 3)
	z, ok := blocks[0].(*extra.Zip64)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<33), z.Uncompressed)
	assert.Equal(t, uint64(100), z.Compressed)

	u, ok := blocks[1].(*extra.UnixTimes)
	require.True(t, ok)
	assert.Len(t, u.Payload(), 5, "central form carries only the modification time")
	assert.Equal(t, uint16(0xcafe), blocks[2].ID())

	// The entry's own block is left in local form.
	local, ok := e.Extra[1].(*extra.UnixTimes)
	require.True(t, ok)
	assert.False(t, local.Central)
}

func TestDirectoryZip64EndRecords(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	writeArchive(t, mem, []*Entry{textEntry("a.txt", "a")}, WithZip64(Zip64Always))
	data := mem.Bytes()

	eocd := data[len(data)-directoryEndLen:]
	assert.Equal(t, uint32(directoryEndSig), binary.LittleEndian.Uint32(eocd))
	assert.Equal(t, uint16(0xffff), binary.LittleEndian.Uint16(eocd[8:]))
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(eocd[16:]))

	loc := data[len(data)-directoryEndLen-directory64LocLen:]
	assert.Equal(t, uint32(directory64LocSig), binary.LittleEndian.Uint32(loc))
	end64 := binary.LittleEndian.Uint64(loc[8:])
	rec := data[end64:]
	assert.Equal(t, uint32(directory64EndSig), binary.LittleEndian.Uint32(rec))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(rec[24:]))

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "a.txt", zr.File[0].Name)
}

func TestDirectoryClassicEndRecord(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	writeArchive(t, mem, []*Entry{textEntry("a.txt", "a"), textEntry("b.txt", "b")}, WithComment("hi"))
	data := mem.Bytes()

	eocd := data[len(data)-directoryEndLen-2:]
	assert.Equal(t, uint32(directoryEndSig), binary.LittleEndian.Uint32(eocd))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(eocd[8:]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(eocd[20:]))
	assert.Equal(t, "hi", string(eocd[22:]))
}

func TestDirectoryCapacity(t *testing.T) {
	t.Parallel()

	t.Run("too many entries without zip64", func(t *testing.T) {
		t.Parallel()
		w := NewWriter(&stream.Memory{}, WithZip64(Zip64Never))
		for range 0xffff {
			w.entries = append(w.entries, &Entry{Name: "d/", RawName: []byte("d/")})
		}
		require.ErrorIs(t, w.Close(), ErrCapacity)
	})

	t.Run("comment too long", func(t *testing.T) {
		t.Parallel()
		w := NewWriter(&stream.Memory{}, WithComment(strings.Repeat("c", 0x10000)))
		require.ErrorIs(t, w.Close(), ErrCapacity)
	})
}
