package zipentry

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/testutil"
	"github.com/meigma/zipentry/stream"
)

func cp437() encoding.Encoding { return charmap.CodePage437 }

// storedEntry builds a complete Store entry without a descriptor.
func storedEntry(name string, payload []byte) []byte {
	n := uint32(len(payload)) //nolint:gosec // small test payloads
	h := testutil.LocalHeader{
		Name:           name,
		CRC32:          crc32.ChecksumIEEE(payload),
		CompressedSize: n,
		Size:           n,
	}
	return append(h.Bytes(), payload...)
}

func TestReadDescriptorScanSkipsFalseSignature(t *testing.T) {
	t.Parallel()

	var payload []byte
	payload = append(payload, "xx"...)
	payload = append(payload, 0x50, 0x4b, 0x07, 0x08)
	payload = append(payload, testutil.Descriptor(false, 1, 999, 999)...)
	payload = append(payload, "yy"...)
	n := uint32(len(payload)) //nolint:gosec // small test payload

	var archive []byte
	archive = append(archive, testutil.LocalHeader{Name: "a.bin", Flags: FlagDataDescriptor}.Bytes()...)
	archive = append(archive, payload...)
	archive = append(archive, testutil.Descriptor(true, crc32.ChecksumIEEE(payload), n, n)...)

	r := NewReader(testutil.NewByteSource(archive))
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.bin", e.Name)
	assert.Equal(t, uint64(n), e.CompressedSize)
	assert.Equal(t, uint64(n), e.UncompressedSize)
	assert.Equal(t, crc32.ChecksumIEEE(payload), e.CRC32)
	assert.Equal(t, int64(16), e.TrailerLength)
	assert.Equal(t, int64(len(archive)), e.TotalLength)

	rc, err := r.Open(e, "")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadDescriptorMissing(t *testing.T) {
	t.Parallel()

	archive := testutil.LocalHeader{Name: "a.bin", Flags: FlagDataDescriptor}.Bytes()
	archive = append(archive, bytes.Repeat([]byte{0xaa}, 100)...)

	_, err := NewReader(testutil.NewByteSource(archive)).ReadLocalHeader(0)
	require.ErrorIs(t, err, ErrFormat)
}

func TestReadUnsignedDescriptor(t *testing.T) {
	t.Parallel()

	payload := []byte("unsigned descriptor data")
	crc := crc32.ChecksumIEEE(payload)
	n := uint32(len(payload)) //nolint:gosec // small test payload

	t.Run("consumed when all fields match", func(t *testing.T) {
		t.Parallel()
		var archive []byte
		archive = append(archive, storedEntry("a.txt", payload)...)
		archive = append(archive, testutil.Descriptor(false, crc, n, n)...)
		archive = append(archive, storedEntry("b.txt", []byte("bb"))...)

		r := NewReader(testutil.NewByteSource(archive))
		a, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, int64(12), a.TrailerLength)

		b, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "b.txt", b.Name)
		assert.Equal(t, int64(0), b.TrailerLength)

		_, err = r.Next()
		require.ErrorIs(t, err, io.EOF)
	})

	tests := []struct {
		name  string
		trail []byte
	}{
		{name: "crc differs", trail: testutil.Descriptor(false, crc+1, n, n)},
		{name: "compressed size differs", trail: testutil.Descriptor(false, crc, n+1, n)},
		{name: "uncompressed size differs", trail: testutil.Descriptor(false, crc, n, n+1)},
		{name: "truncated", trail: testutil.Descriptor(false, crc, n, n)[:8]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			archive := append(storedEntry("a.txt", payload), tt.trail...)
			e, err := NewReader(testutil.NewByteSource(archive)).ReadLocalHeader(0)
			require.NoError(t, err)
			assert.Equal(t, int64(0), e.TrailerLength)
		})
	}
}

func TestReadDirectoryDescriptor(t *testing.T) {
	t.Parallel()

	var archive []byte
	archive = append(archive, testutil.LocalHeader{Name: "d/", Flags: FlagDataDescriptor}.Bytes()...)
	archive = append(archive, testutil.Descriptor(true, 0, 0, 0)...)
	archive = append(archive, storedEntry("d/f.txt", []byte("x"))...)

	r := NewReader(testutil.NewByteSource(archive))
	d, err := r.Next()
	require.NoError(t, err)
	assert.True(t, d.IsDir())
	assert.Equal(t, int64(16), d.TrailerLength)

	rc, err := r.Open(d, "")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, got)

	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "d/f.txt", f.Name)
}

func TestReadSignatures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		wantEOF bool
	}{
		{name: "central directory", data: []byte{0x50, 0x4b, 0x01, 0x02, 0, 0}, wantEOF: true},
		{name: "end of central directory", data: []byte{0x50, 0x4b, 0x05, 0x06, 0, 0}, wantEOF: true},
		{name: "zip64 end record", data: []byte{0x50, 0x4b, 0x06, 0x06, 0, 0}, wantEOF: true},
		{name: "empty", data: nil, wantEOF: true},
		{name: "garbage", data: []byte("definitely not a zip")},
		{name: "short", data: []byte{0x50, 0x4b}},
		{name: "truncated header", data: testutil.LocalHeader{Name: "a"}.Bytes()[:20]},
		{name: "truncated name", data: testutil.LocalHeader{Name: "abcdef"}.Bytes()[:32]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReader(testutil.NewByteSource(tt.data)).ReadLocalHeader(0)
			if tt.wantEOF {
				require.ErrorIs(t, err, io.EOF)
				return
			}
			require.ErrorIs(t, err, ErrFormat)
			var entryErr *EntryError
			require.ErrorAs(t, err, &entryErr)
			assert.Equal(t, "read header", entryErr.Op)
		})
	}
}

func TestReadMalformedExtra(t *testing.T) {
	t.Parallel()

	// Declared block length runs past the end of the extra field.
	bad := []byte{0x34, 0x12, 0x10, 0x00, 1, 2}
	archive := testutil.LocalHeader{Name: "a.txt", Extra: bad}.Bytes()
	_, err := NewReader(testutil.NewByteSource(archive)).ReadLocalHeader(0)
	require.ErrorIs(t, err, ErrFormat)
}

func TestReadStrongEncryption(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x5a}, 16)
	h := testutil.LocalHeader{
		Version:        62,
		Flags:          FlagEncrypted | 1<<6,
		Method:         uint16(Deflate),
		CompressedSize: uint32(len(payload)),
		Size:           32,
		Name:           "strong.bin",
		Extra:          testutil.ExtraBlock(extra.IDStrongEncryption, []byte{2, 0, 0x10, 0x66, 0, 1, 0, 0}),
	}
	archive := append(h.Bytes(), payload...)

	r := NewReader(testutil.NewByteSource(archive))
	e, err := r.ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, EncryptionUnsupported, e.Encryption)
	_, ok := extra.Find[*extra.StrongEncryption](e.Extra)
	assert.True(t, ok)

	_, err = r.Open(e, "pw")
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestReadAESMarkerWithoutBlock(t *testing.T) {
	t.Parallel()

	h := testutil.LocalHeader{Flags: FlagEncrypted, Method: 99, Name: "aes.bin"}
	e, err := NewReader(testutil.NewByteSource(h.Bytes())).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, EncryptionUnsupported, e.Encryption)
}

func TestReadUnsupportedMethod(t *testing.T) {
	t.Parallel()

	h := testutil.LocalHeader{Method: 12, CompressedSize: 4, Size: 4, Name: "bz.bin"}
	archive := append(h.Bytes(), "BZh9"...)
	r := NewReader(testutil.NewByteSource(archive))
	e, err := r.ReadLocalHeader(0)
	require.NoError(t, err)
	_, err = r.Open(e, "")
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestReadIntegrityFailures(t *testing.T) {
	t.Parallel()

	t.Run("crc mismatch", func(t *testing.T) {
		t.Parallel()
		archive := storedEntry("a.txt", []byte("payload"))
		archive[localHeaderLen+len("a.txt")] = 'P'
		r := NewReader(testutil.NewByteSource(archive))
		e, err := r.ReadLocalHeader(0)
		require.NoError(t, err)
		rc, err := r.Open(e, "")
		require.NoError(t, err)
		_, err = io.ReadAll(rc)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("corrupt deflate stream", func(t *testing.T) {
		t.Parallel()
		payload := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
		h := testutil.LocalHeader{Method: uint16(Deflate), CompressedSize: 6, Size: 100, CRC32: 1, Name: "d.bin"}
		archive := append(h.Bytes(), payload...)
		r := NewReader(testutil.NewByteSource(archive))
		e, err := r.ReadLocalHeader(0)
		require.NoError(t, err)
		rc, err := r.Open(e, "")
		require.NoError(t, err)
		_, err = io.ReadAll(rc)
		require.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("data past end of archive", func(t *testing.T) {
		t.Parallel()
		h := testutil.LocalHeader{CompressedSize: 1000, Size: 1000, Name: "short.bin"}
		archive := append(h.Bytes(), "only a few bytes"...)
		r := NewReader(testutil.NewByteSource(archive))
		e, err := r.ReadLocalHeader(0)
		require.NoError(t, err)
		_, err = r.Open(e, "")
		require.ErrorIs(t, err, ErrFormat)
	})
}

func TestReadNameEncoding(t *testing.T) {
	t.Parallel()

	archive := storedEntry("caf\x82", []byte("x"))

	e, err := NewReader(testutil.NewByteSource(archive)).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, "café", e.Name)
	assert.False(t, e.UTF8)
	assert.Equal(t, []byte("caf\x82"), e.RawName)

	e, err = NewReader(testutil.NewByteSource(archive), ReadWithNameEncoding(charmap.Windows1252)).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, "caf‚", e.Name)
}

func TestReadDOSTime(t *testing.T) {
	t.Parallel()

	// 2024-03-15 10:30:42
	dos := uint32(44<<9|3<<5|15)<<16 | uint32(10<<11|30<<5|21)
	h := testutil.LocalHeader{Name: "t.txt", DOSTime: dos}
	e, err := NewReader(testutil.NewByteSource(h.Bytes()), ReadWithLocation(time.UTC)).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, TimestampDOS, e.Timestamps)
	assert.True(t, e.Modified.Equal(fixedTime), "got %v", e.Modified)
}

func TestReadProgress(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	content := bytes.Repeat([]byte("progress "), 5000)
	writeArchive(t, mem, []*Entry{{Name: "p.txt", Modified: fixedTime, Open: testutil.NewOpener(content).Open}})

	var last ProgressEvent
	r := NewReader(mem, ReadWithProgress(func(ev ProgressEvent) { last = ev }))
	e, err := r.Next()
	require.NoError(t, err)
	rc, err := r.Open(e, "")
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, rc)
	require.NoError(t, err)

	assert.Equal(t, StageExtracting, last.Stage)
	assert.Equal(t, "p.txt", last.Name)
	assert.Equal(t, uint64(len(content)), last.BytesDone)
	assert.Equal(t, uint64(len(content)), last.BytesTotal)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	writeArchive(t, mem, []*Entry{textEntry("a.txt", "from disk")})
	path := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(path, mem.Bytes(), 0o600))

	af, err := OpenFile(path)
	require.NoError(t, err)
	defer af.Close()

	e, err := af.Next()
	require.NoError(t, err)
	rc, err := af.Open(e, "")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(got))

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// aesDeflateArchive writes one AES, Deflate entry. AE-2 output is produced
// by rewriting an AE-1 entry with its vendor version changed.
func aesDeflateArchive(t *testing.T, alg Encryption, version uint16, content []byte) []byte {
	t.Helper()
	src := &stream.Memory{}
	writeArchive(t, src, []*Entry{{
		Name:       "mac.txt",
		Modified:   fixedTime,
		Method:     Deflate,
		Encryption: alg,
		Password:   "pw",
		Open:       testutil.NewOpener(content).Open,
	}})
	if version == extra.AEVersion1 {
		return src.Bytes()
	}

	e, err := NewReader(src).Next()
	require.NoError(t, err)
	e.AESVendorVersion = version
	e.Dirty = true
	dst := &stream.Memory{}
	writeArchive(t, dst, []*Entry{e})
	return dst.Bytes()
}

func TestReadAESAuthenticationCode(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("authenticated deflate content "), 2000)
	for _, version := range []uint16{extra.AEVersion1, extra.AEVersion2} {
		for _, alg := range []Encryption{EncryptionAES128, EncryptionAES256} {
			t.Run(fmt.Sprintf("%s/AE-%d", alg, version), func(t *testing.T) {
				t.Parallel()
				archive := aesDeflateArchive(t, alg, version, content)

				r := NewReader(testutil.NewByteSource(archive))
				h, err := r.Next()
				require.NoError(t, err)
				assert.Equal(t, Deflate, h.Method)
				assert.Equal(t, version, h.AESVendorVersion)
				if version == extra.AEVersion2 {
					assert.Zero(t, h.CRC32)
				} else {
					assert.Equal(t, crc32.ChecksumIEEE(content), h.CRC32)
				}
				rc, err := r.Open(h, "pw")
				require.NoError(t, err)
				got, err := io.ReadAll(rc)
				require.NoError(t, err)
				assert.Equal(t, content, got)
				require.NoError(t, rc.Close())

				// Flip the last byte of the authentication code.
				tampered := bytes.Clone(archive)
				tampered[h.DataOffset()+int64(h.CompressedSize)-1] ^= 0x01 //nolint:gosec // small test archive
				r = NewReader(testutil.NewByteSource(tampered))
				h, err = r.Next()
				require.NoError(t, err)
				rc, err = r.Open(h, "pw")
				require.NoError(t, err)
				_, err = io.ReadAll(rc)
				require.ErrorIs(t, err, ErrIntegrity)
				_, err = rc.Read(make([]byte, 1))
				require.ErrorIs(t, err, ErrIntegrity)
			})
		}
	}
}
