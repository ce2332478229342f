package zipentry

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/zipentry/internal/extra"
	"github.com/meigma/zipentry/internal/testutil"
	"github.com/meigma/zipentry/internal/write"
	"github.com/meigma/zipentry/stream"
)

var fixedTime = time.Date(2024, 3, 15, 10, 30, 42, 0, time.UTC)

func textEntry(name, content string) *Entry {
	return &Entry{
		Name:     name,
		Modified: fixedTime,
		Open:     testutil.NewOpener([]byte(content)).Open,
	}
}

func randomBytes(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // deterministic test data
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func writeArchive(t *testing.T, out io.Writer, entries []*Entry, opts ...WriterOption) {
	t.Helper()
	opts = append([]WriterOption{WithLocation(time.UTC)}, opts...)
	w := NewWriter(out, opts...)
	for _, e := range entries {
		require.NoError(t, w.WriteEntry(context.Background(), e), "write %s", e.Name)
	}
	require.NoError(t, w.Close())
}

func readAllEntries(t *testing.T, src Source, opts ...ReaderOption) map[string][]byte {
	t.Helper()
	r := NewReader(src, opts...)
	got := make(map[string][]byte)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return got
		}
		require.NoError(t, err)
		rc, err := r.Open(e, "")
		require.NoError(t, err, "open %s", e.Name)
		data, err := io.ReadAll(rc)
		require.NoError(t, err, "read %s", e.Name)
		require.NoError(t, rc.Close())
		got[e.Name] = data
	}
}

func TestWriteStoreFallback(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	opener := testutil.NewOpener([]byte("hello world"))
	e := &Entry{Name: "hello.txt", Modified: fixedTime, Open: opener.Open}
	writeArchive(t, mem, []*Entry{e})

	assert.Equal(t, Store, e.Method)
	assert.Equal(t, uint32(0x0D4A1185), e.CRC32)
	assert.Equal(t, uint64(11), e.CompressedSize)
	assert.Equal(t, uint64(11), e.UncompressedSize)
	assert.Equal(t, TristateFalse, e.RequiresZip64)
	assert.Equal(t, TristateFalse, e.OutputUsedZip64)
	assert.Equal(t, 2, opener.Opens(), "second pass should re-open the source")
	assert.Zero(t, e.Flags&FlagDataDescriptor)

	h, err := NewReader(mem).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, Store, h.Method)
	assert.Equal(t, uint32(0x0D4A1185), h.CRC32)
	assert.Equal(t, uint64(11), h.CompressedSize)
	assert.Equal(t, e.TotalLength, h.TotalLength)
}

func TestWriteNoRetryForTinyInput(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	opener := testutil.NewOpener([]byte("abc"))
	e := &Entry{Name: "tiny.txt", Modified: fixedTime, Open: opener.Open}
	writeArchive(t, mem, []*Entry{e})

	assert.Equal(t, Deflate, e.Method)
	assert.GreaterOrEqual(t, e.CompressedSize, e.UncompressedSize)
	assert.Equal(t, 1, opener.Opens())
	assert.Equal(t, map[string][]byte{"tiny.txt": []byte("abc")}, readAllEntries(t, mem))
}

func TestWriteRetryVetoed(t *testing.T) {
	t.Parallel()

	var asked []string
	mem := &stream.Memory{}
	e := textEntry("hello.txt", "hello world")
	writeArchive(t, mem, []*Entry{e}, WithRetry(func(name string, _, _ uint64) bool {
		asked = append(asked, name)
		return false
	}))

	assert.Equal(t, []string{"hello.txt"}, asked)
	assert.Equal(t, Deflate, e.Method)
	assert.Equal(t, map[string][]byte{"hello.txt": []byte("hello world")}, readAllEntries(t, mem))
}

func TestWriteMethodChoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry *Entry
		opts  []WriterOption
		want  Method
	}{
		{
			name:  "compressible",
			entry: textEntry("a.txt", strings.Repeat("abc", 1000)),
			want:  Deflate,
		},
		{
			name:  "empty content",
			entry: textEntry("empty.txt", ""),
			want:  Store,
		},
		{
			name:  "directory",
			entry: &Entry{Name: "dir/", Modified: fixedTime},
			want:  Store,
		},
		{
			name:  "known compressed extension",
			entry: textEntry("photo.jpg", strings.Repeat("abc", 1000)),
			want:  Store,
		},
		{
			name:  "compression disabled",
			entry: textEntry("a.txt", strings.Repeat("abc", 1000)),
			opts:  []WriterOption{WithCompression(Store)},
			want:  Store,
		},
		{
			name:  "custom skip predicate replaces default",
			entry: textEntry("photo.jpg", strings.Repeat("abc", 1000)),
			opts: []WriterOption{WithSkipCompression(func(name string) bool {
				return strings.HasSuffix(name, ".raw")
			})},
			want: Deflate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			writeArchive(t, &stream.Memory{}, []*Entry{tt.entry}, tt.opts...)
			assert.Equal(t, tt.want, tt.entry.Method)
		})
	}
}

func TestWriteStreaming(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("streaming content ", 500)
	var buf bytes.Buffer
	e := textEntry("s.txt", content)
	writeArchive(t, &buf, []*Entry{e})

	assert.NotZero(t, e.Flags&FlagDataDescriptor)
	assert.Equal(t, Deflate, e.Method)
	assert.Equal(t, int64(16), e.TrailerLength)

	data := buf.Bytes()
	// CRC and both sizes stay zero in the local header.
	assert.Equal(t, make([]byte, 12), data[crcOff:crcOff+12])

	desc := data[e.TotalLength-16 : e.TotalLength]
	assert.Equal(t, uint32(dataDescriptorSig), binary.LittleEndian.Uint32(desc))
	assert.Equal(t, e.CRC32, binary.LittleEndian.Uint32(desc[4:]))
	assert.Equal(t, uint32(e.CompressedSize), binary.LittleEndian.Uint32(desc[8:]))    //nolint:gosec // small test sizes
	assert.Equal(t, uint32(e.UncompressedSize), binary.LittleEndian.Uint32(desc[12:])) //nolint:gosec // small test sizes

	src := testutil.NewByteSource(data)
	h, err := NewReader(src).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, e.CRC32, h.CRC32)
	assert.Equal(t, e.CompressedSize, h.CompressedSize)
	assert.Equal(t, e.TotalLength, h.TotalLength)

	assert.Equal(t, map[string][]byte{"s.txt": []byte(content)}, readAllEntries(t, src))
}

func TestWriteStreamingNeverRetries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := textEntry("hello.txt", "hello world")
	writeArchive(t, &buf, []*Entry{e})
	assert.Equal(t, Deflate, e.Method)
}

func TestWriteStreamingZip64Always(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	e := textEntry("s.txt", strings.Repeat("z", 4096))
	writeArchive(t, &buf, []*Entry{e}, WithZip64(Zip64Always))

	assert.Equal(t, TristateFalse, e.RequiresZip64)
	assert.Equal(t, TristateTrue, e.OutputUsedZip64)
	assert.Equal(t, int64(24), e.TrailerLength)

	src := testutil.NewByteSource(buf.Bytes())
	h, err := NewReader(src).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.True(t, h.InputUsedZip64)
	assert.Equal(t, e.CompressedSize, h.CompressedSize)
	assert.Equal(t, int64(24), h.TrailerLength)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, uint64(4096), zr.File[0].UncompressedSize64)
}

func TestWriteInteropWithArchiveZip(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"docs/":           nil,
		"docs/readme.txt": []byte(strings.Repeat("read me ", 200)),
		"empty.txt":       {},
		"random.bin":      randomBytes(64 << 10),
		"hello.txt":       []byte("hello world"),
	}
	order := []string{"docs/", "docs/readme.txt", "empty.txt", "random.bin", "hello.txt"}

	for _, seekable := range []bool{true, false} {
		var out interface {
			io.Writer
			Bytes() []byte
		} = &stream.Memory{}
		if !seekable {
			out = &bytes.Buffer{}
		}
		var entries []*Entry
		for _, name := range order {
			e := &Entry{Name: name, Modified: fixedTime}
			if !strings.HasSuffix(name, "/") {
				e.Open = testutil.NewOpener(files[name]).Open
			}
			entries = append(entries, e)
		}
		writeArchive(t, out, entries, WithComment("archive comment"))

		data := out.Bytes()
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
		assert.Equal(t, "archive comment", zr.Comment)
		require.Len(t, zr.File, len(order))
		for i, f := range zr.File {
			assert.Equal(t, order[i], f.Name)
			assert.True(t, f.Modified.Equal(fixedTime), "modified time of %s: %v", f.Name, f.Modified)
			rc, err := f.Open()
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err, "seekable=%v %s", seekable, f.Name)
			require.NoError(t, rc.Close())
			assert.Equal(t, len(files[f.Name]), len(got))
			assert.True(t, bytes.Equal(files[f.Name], got), "content of %s", f.Name)
		}
	}
}

func TestWriteNameEncoding(t *testing.T) {
	t.Parallel()

	t.Run("utf8 flag", func(t *testing.T) {
		t.Parallel()
		mem := &stream.Memory{}
		e := textEntry("日本.txt", "x")
		writeArchive(t, mem, []*Entry{e})
		assert.True(t, e.UTF8)
		assert.NotZero(t, e.Flags&FlagUTF8)

		h, err := NewReader(mem).ReadLocalHeader(0)
		require.NoError(t, err)
		assert.Equal(t, "日本.txt", h.Name)
	})

	t.Run("legacy code page", func(t *testing.T) {
		t.Parallel()
		mem := &stream.Memory{}
		e := textEntry("café.txt", "x")
		writeArchive(t, mem, []*Entry{e}, WithNameEncoding(cp437()))
		assert.False(t, e.UTF8)
		assert.Equal(t, []byte("caf\x82.txt"), e.RawName)

		h, err := NewReader(mem).ReadLocalHeader(0)
		require.NoError(t, err)
		assert.Equal(t, "café.txt", h.Name)
	})
}

func TestWriteTimestamps(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	e := textEntry("t.txt", "x")
	e.Accessed = fixedTime.Add(time.Hour)
	writeArchive(t, mem, []*Entry{e}, WithUnixTimes(true))
	assert.True(t, e.Timestamps.Has(TimestampDOS|TimestampNTFS|TimestampUnix))

	h, err := NewReader(mem, ReadWithLocation(time.UTC)).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.True(t, h.Modified.Equal(fixedTime))
	assert.True(t, h.Accessed.Equal(fixedTime.Add(time.Hour)))
	// Creation time defaults to the modification time.
	assert.True(t, h.Created.Equal(fixedTime))

	ntfsOnly := &stream.Memory{}
	writeArchive(t, ntfsOnly, []*Entry{textEntry("t.txt", "x")}, WithNTFSTimes(false))
	h, err = NewReader(ntfsOnly, ReadWithLocation(time.UTC)).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.Equal(t, TimestampDOS, h.Timestamps)
	assert.True(t, h.Modified.Equal(fixedTime))
}

func TestWriteEncrypted(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("secret payload ", 300)
	for _, alg := range []Encryption{EncryptionWeak, EncryptionAES128, EncryptionAES256} {
		for _, seekable := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/seekable=%v", alg, seekable), func(t *testing.T) {
				t.Parallel()

				var out interface {
					io.Writer
					Bytes() []byte
				} = &stream.Memory{}
				if !seekable {
					out = &bytes.Buffer{}
				}
				e := textEntry("secret.txt", content)
				e.Encryption = alg
				e.Password = "correct horse"
				writeArchive(t, out, []*Entry{e})
				assert.NotZero(t, e.Flags&FlagEncrypted)
				if alg.IsAES() {
					assert.Equal(t, uint16(1), e.AESVendorVersion)
				}

				src := testutil.NewByteSource(out.Bytes())
				r := NewReader(src)
				h, err := r.Next()
				require.NoError(t, err)
				assert.Equal(t, alg, h.Encryption)
				assert.Equal(t, e.CryptoFramingLength, h.CryptoFramingLength)

				rc, err := r.Open(h, "correct horse")
				require.NoError(t, err)
				got, err := io.ReadAll(rc)
				require.NoError(t, err)
				assert.Equal(t, content, string(got))

				_, err = r.Open(h, "")
				require.ErrorIs(t, err, ErrPassword)

				rc, err = r.Open(h, "wrong password")
				if err == nil {
					// A weak header matches a wrong password 1 time in 256;
					// the CRC check catches it then.
					_, err = io.ReadAll(rc)
					require.ErrorIs(t, err, ErrIntegrity)
				} else {
					require.ErrorIs(t, err, ErrPassword)
				}
			})
		}
	}
}

func TestWriteEncryptedRequiresPassword(t *testing.T) {
	t.Parallel()

	w := NewWriter(&stream.Memory{})
	e := textEntry("secret.txt", "x")
	e.Encryption = EncryptionAES256
	err := w.WriteEntry(context.Background(), e)
	require.ErrorIs(t, err, ErrPassword)

	e = textEntry("secret.txt", "x")
	e.Encryption = EncryptionUnsupported
	e.Password = "pw"
	err = w.WriteEntry(context.Background(), e)
	require.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestWriteCopyThrough(t *testing.T) {
	t.Parallel()

	src := &stream.Memory{}
	e := textEntry("keep.txt", strings.Repeat("keep me ", 100))
	e.Extra = []extra.Block{&extra.Unknown{Tag: 0xcafe, Data: []byte{1, 2, 3, 4}}}
	writeArchive(t, src, []*Entry{e, textEntry("second.txt", "second entry")})

	r := NewReader(src)
	first, err := r.Next()
	require.NoError(t, err)
	second, err := r.Next()
	require.NoError(t, err)

	// Prefix the output so the copied entries land at new offsets.
	dst := &stream.Memory{}
	writeArchive(t, dst, []*Entry{textEntry("new.txt", "new"), first, second})

	assert.Nil(t, first.Archive)
	assert.Equal(t, TristateFalse, first.OutputUsedZip64)

	srcBytes, dstBytes := src.Bytes(), dst.Bytes()
	firstLen := second.LocalHeaderOffset - first.LocalHeaderOffset
	assert.Equal(t, srcBytes[:firstLen], dstBytes[first.LocalHeaderOffset:first.LocalHeaderOffset+firstLen])

	zr, err := zip.NewReader(bytes.NewReader(dstBytes), int64(len(dstBytes)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	assert.Contains(t, string(zr.File[1].Extra), "\xfe\xca\x04\x00\x01\x02\x03\x04")

	got := readAllEntries(t, dst)
	assert.Equal(t, strings.Repeat("keep me ", 100), string(got["keep.txt"]))
	assert.Equal(t, "second entry", string(got["second.txt"]))
}

func TestWriteCopyThroughZip64Never(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("wide ", 200)
	src := &stream.Memory{}
	writeArchive(t, src, []*Entry{textEntry("wide.txt", content)}, WithZip64(Zip64Always))
	e, err := NewReader(src).Next()
	require.NoError(t, err)
	require.True(t, e.InputUsedZip64)

	dst := &stream.Memory{}
	writeArchive(t, dst, []*Entry{e}, WithZip64(Zip64Never))
	assert.Equal(t, TristateFalse, e.OutputUsedZip64)

	h, err := NewReader(dst).Next()
	require.NoError(t, err)
	assert.False(t, h.InputUsedZip64)
	_, ok := extra.Find[*extra.Zip64](h.Extra)
	assert.False(t, ok)

	data := dst.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, uint64(len(content)), zr.File[0].UncompressedSize64)
	assert.Equal(t, content, string(readAllEntries(t, dst)["wide.txt"]))
}

func TestWriteDirtyReusesPayload(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("dirty ", 400)
	src := &stream.Memory{}
	orig := textEntry("old.txt", content)
	orig.Encryption = EncryptionAES256
	orig.Password = "pw"
	writeArchive(t, src, []*Entry{orig})

	e, err := NewReader(src).Next()
	require.NoError(t, err)
	e.Name = "renamed.txt"
	e.RawName = nil
	e.Dirty = true

	var buf bytes.Buffer
	writeArchive(t, &buf, []*Entry{e})
	assert.Equal(t, orig.Method, e.Method)
	assert.Equal(t, orig.CompressedSize, e.CompressedSize)
	assert.NotZero(t, e.Flags&FlagDataDescriptor)

	r := NewReader(testutil.NewByteSource(buf.Bytes()))
	h, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", h.Name)
	rc, err := r.Open(h, "pw")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestWriteDirtyWeakKeepsDescriptorTime(t *testing.T) {
	t.Parallel()

	var streamed bytes.Buffer
	orig := textEntry("w.txt", strings.Repeat("weak ", 100))
	orig.Encryption = EncryptionWeak
	orig.Password = "pw"
	writeArchive(t, &streamed, []*Entry{orig})

	e, err := NewReader(testutil.NewByteSource(streamed.Bytes())).Next()
	require.NoError(t, err)
	e.Modified = fixedTime.Add(48 * time.Hour)
	e.Dirty = true

	dst := &stream.Memory{}
	writeArchive(t, dst, []*Entry{e})
	assert.Equal(t, orig.DOSTime, e.DOSTime)
	assert.NotZero(t, e.Flags&FlagDataDescriptor)

	got := readAllEntriesWithPassword(t, dst, "pw")
	assert.Equal(t, strings.Repeat("weak ", 100), string(got["w.txt"]))
}

func readAllEntriesWithPassword(t *testing.T, src Source, password string) map[string][]byte {
	t.Helper()
	r := NewReader(src)
	got := make(map[string][]byte)
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return got
		}
		require.NoError(t, err)
		rc, err := r.Open(e, password)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		got[e.Name] = data
	}
}

// sessionAt runs a session up to finalization with a synthetic result, so
// sizes past 4 GiB can be exercised without writing them.
func sessionAt(t *testing.T, w *Writer, res write.Result) (*session, error) {
	t.Helper()
	e := &Entry{Name: "big.bin", Modified: fixedTime, Open: testutil.NewOpener([]byte("x")).Open}
	s := newSession(w, e)
	t.Cleanup(s.closePending)
	require.NoError(t, s.init())
	require.NoError(t, s.writePlaceholderHeader())
	s.result = res
	return s, s.finalize()
}

func TestZip64Threshold(t *testing.T) {
	t.Parallel()

	res := write.Result{CRC32: 0xdeadbeef, Uncompressed: 1 << 32, Compressed: 1234, Written: 1234}
	mem := &stream.Memory{}
	w := NewWriter(mem, WithLocation(time.UTC))
	s, err := sessionAt(t, w, res)
	require.NoError(t, err)
	require.NoError(t, s.fin.finish(s))
	s.complete()

	e := s.entry
	assert.Equal(t, TristateTrue, e.RequiresZip64)
	assert.Equal(t, TristateTrue, e.OutputUsedZip64)
	assert.Equal(t, uint16(45), e.VersionNeeded)

	data := mem.Bytes()
	assert.Equal(t, uint16(45), binary.LittleEndian.Uint16(data[versionNeededOff:]))
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(data[crcOff:]))
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(data[crcOff+4:]))
	assert.Equal(t, uint32(0xffffffff), binary.LittleEndian.Uint32(data[crcOff+8:]))

	block := data[localHeaderLen+len("big.bin"):]
	assert.Equal(t, uint16(extra.IDZip64), binary.LittleEndian.Uint16(block))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(block[2:]))
	assert.Equal(t, uint64(1<<32), binary.LittleEndian.Uint64(block[4:]))
	assert.Equal(t, uint64(1234), binary.LittleEndian.Uint64(block[12:]))

	h, err := NewReader(mem).ReadLocalHeader(0)
	require.NoError(t, err)
	assert.True(t, h.InputUsedZip64)
	assert.Equal(t, uint64(1<<32), h.UncompressedSize)
	assert.Equal(t, uint64(1234), h.CompressedSize)
}

func TestZip64BelowThreshold(t *testing.T) {
	t.Parallel()

	res := write.Result{Uncompressed: 1<<32 - 2, Compressed: 100, Written: 100}
	mem := &stream.Memory{}
	s, err := sessionAt(t, NewWriter(mem), res)
	require.NoError(t, err)
	require.NoError(t, s.fin.finish(s))
	assert.False(t, s.requiresZip64)
	assert.False(t, s.usedZip64)

	// The reserved block keeps its placeholder id.
	block := mem.Bytes()[localHeaderLen+len("big.bin"):]
	assert.Equal(t, uint16(extra.IDPlaceholder), binary.LittleEndian.Uint16(block))
}

func TestZip64NeverFails(t *testing.T) {
	t.Parallel()

	res := write.Result{Uncompressed: 1 << 32, Compressed: 1234, Written: 1234}
	_, err := sessionAt(t, NewWriter(&stream.Memory{}, WithZip64(Zip64Never)), res)
	require.ErrorIs(t, err, ErrCapacity)
}

func TestZip64AlwaysSmallEntry(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	e := textEntry("small.txt", strings.Repeat("q", 100))
	writeArchive(t, mem, []*Entry{e}, WithZip64(Zip64Always))
	assert.Equal(t, TristateFalse, e.RequiresZip64)
	assert.Equal(t, TristateTrue, e.OutputUsedZip64)
	assert.Equal(t, uint16(45), e.VersionNeeded)

	data := mem.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, uint64(100), zr.File[0].UncompressedSize64)
}

func TestWriteCancelTruncates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := &stream.Memory{}
	w := NewWriter(mem, WithBufferSize(1024))
	require.NoError(t, w.WriteEntry(ctx, textEntry("a.txt", "first entry")))
	end := mem.Length()

	e := &Entry{
		Name:     "b.txt",
		Modified: fixedTime,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(&testutil.HookReader{
				R:    bytes.NewReader(bytes.Repeat([]byte("b"), 1<<20)),
				Hook: cancel,
			}), nil
		},
	}
	err := w.WriteEntry(ctx, e)
	require.ErrorIs(t, err, context.Canceled)

	var entryErr *EntryError
	require.ErrorAs(t, err, &entryErr)
	assert.Equal(t, "b.txt", entryErr.Name)
	assert.Equal(t, end, mem.Length())
	assert.Equal(t, end, mem.Position())

	require.NoError(t, w.Close())
	got := readAllEntries(t, mem)
	assert.Equal(t, map[string][]byte{"a.txt": []byte("first entry")}, got)
}

func TestWriteSourceErrorTruncates(t *testing.T) {
	t.Parallel()

	mem := &stream.Memory{}
	w := NewWriter(mem, WithBufferSize(512))
	e := &Entry{
		Name:     "fail.txt",
		Modified: fixedTime,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(&testutil.FailingReader{N: 4096}), nil
		},
	}
	err := w.WriteEntry(context.Background(), e)
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Zero(t, mem.Length())
}

func TestWriteProgress(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	content := strings.Repeat("p", 10_000)
	writeArchive(t, &stream.Memory{}, []*Entry{textEntry("p.txt", content)},
		WithBufferSize(1000),
		WithProgress(func(ev ProgressEvent) { events = append(events, ev) }))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StageWriting, last.Stage)
	assert.Equal(t, "p.txt", last.Name)
	assert.Equal(t, uint64(len(content)), last.BytesDone)
}

func TestWriterClosed(t *testing.T) {
	t.Parallel()

	w := NewWriter(&stream.Memory{})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	err := w.WriteEntry(context.Background(), textEntry("late.txt", "x"))
	require.Error(t, err)
}

func TestWriteStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "placeholder-header", statePlaceholderHeader.String())
	assert.Equal(t, "done", stateDone.String())
	assert.Equal(t, "state(42)", writeState(42).String())
}
