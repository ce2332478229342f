package stream

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriteSeekTruncate(t *testing.T) {
	t.Parallel()

	m := &Memory{}
	_, err := m.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), m.Position())

	_, err = m.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = m.Write([]byte("HELLO"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO world", string(m.Bytes()))
	assert.Equal(t, int64(5), m.Position())

	require.NoError(t, m.SetLength(5))
	assert.Equal(t, int64(5), m.Length())

	_, err = m.Seek(2, io.SeekEnd)
	require.NoError(t, err)
	_, err = m.Write([]byte("!"))
	require.NoError(t, err)
	assert.Equal(t, []byte("HELLO\x00\x00!"), m.Bytes())

	_, err = m.Seek(-1, io.SeekStart)
	require.Error(t, err)
}

func TestMemoryReadAt(t *testing.T) {
	t.Parallel()

	m := NewMemory([]byte("abcdef"))
	assert.Equal(t, int64(6), m.Position())
	buf := make([]byte, 4)
	n, err := m.ReadAt(buf, 4)
	assert.Equal(t, 2, n)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestFromWriterForwardOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := FromWriter(&buf)
	assert.False(t, s.CanSeek())
	_, err := s.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Position())

	_, err = s.Seek(0, io.SeekStart)
	require.ErrorIs(t, err, ErrNotSeekable)
	require.ErrorIs(t, s.SetLength(0), ErrNotSeekable)
}

func TestFromWriterFile(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "out.zip"))
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write([]byte("prefix"))
	require.NoError(t, err)

	s := FromWriter(f)
	require.True(t, s.CanSeek())
	assert.Equal(t, int64(6), s.Position())
	assert.Equal(t, int64(6), s.Length())

	_, err = s.Write([]byte("-data"))
	require.NoError(t, err)
	require.NoError(t, s.SetLength(6))
	assert.Equal(t, int64(6), s.Length())

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size())
}

func TestFromWriterKeepsStream(t *testing.T) {
	t.Parallel()

	m := &Memory{}
	assert.Same(t, m, FromWriter(m))

	fwd := Forward(m)
	assert.False(t, fwd.CanSeek())
}

// seekOnly can seek but not truncate.
type seekOnly struct{ *Memory }

func (s seekOnly) Write(p []byte) (int, error)                  { return s.Memory.Write(p) }
func (s seekOnly) Seek(off int64, whence int) (int64, error) { return s.Memory.Seek(off, whence) }

func TestFromWriterSeekerWithoutTruncate(t *testing.T) {
	t.Parallel()

	s := FromWriter(struct {
		io.Writer
		io.Seeker
	}{seekOnly{&Memory{}}, seekOnly{&Memory{}}})
	assert.False(t, s.CanSeek())
}
