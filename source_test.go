package ustar

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ustar/internal/testutil"
)

func TestBytesSource(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789")
	src := NewBytesSource(data)
	assert.Equal(t, int64(10), src.Size())
	assert.Equal(t, digest.FromBytes(data).String(), src.SourceID())

	buf := make([]byte, 4)
	n, err := src.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "3456", string(buf))

	n, err = src.ReadAt(buf, 8)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)

	_, err = src.ReadAt(buf, -1)
	require.Error(t, err)
}

func TestSeekerSource(t *testing.T) {
	t.Parallel()

	rs := strings.NewReader("abcdefgh")
	_, err := rs.Seek(3, io.SeekStart)
	require.NoError(t, err)

	src, err := NewSeekerSource(rs, "letters")
	require.NoError(t, err)
	assert.Equal(t, int64(8), src.Size())
	assert.Equal(t, "letters", src.SourceID())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 5)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)
	assert.Equal(t, "fgh", string(buf[:n]))

	pos, err := rs.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestDetectCompression(t *testing.T) {
	t.Parallel()

	data := scenario().Bytes()
	assert.Equal(t, CompressionNone, DetectCompression(data))
	assert.Equal(t, CompressionGzip, DetectCompression(testutil.Gzip(t, data)))
	assert.Equal(t, CompressionZstd, DetectCompression(testutil.Zstd(t, data)))
	assert.Equal(t, CompressionNone, DetectCompression(nil))
	assert.Equal(t, "zstd", CompressionZstd.String())
}

func TestNewDecompressedSource(t *testing.T) {
	t.Parallel()

	data := scenario().Bytes()
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "plain", input: data},
		{name: "gzip", input: testutil.Gzip(t, data)},
		{name: "zstd", input: testutil.Zstd(t, data)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, err := NewDecompressedSource(bytes.NewReader(tt.input), WithDecoderLowmem(true))
			require.NoError(t, err)
			assert.Equal(t, data, src.Bytes())

			a, err := New(src)
			require.NoError(t, err)
			assert.True(t, a.IsSymlink("dir/link"))
		})
	}
}

func TestNewDecompressedSource_Limit(t *testing.T) {
	t.Parallel()

	data := scenario().Bytes()

	_, err := NewDecompressedSource(bytes.NewReader(testutil.Zstd(t, data)), WithMaxDecompressedSize(1024))
	require.ErrorIs(t, err, ErrDecompressedTooLarge)

	src, err := NewDecompressedSource(bytes.NewReader(testutil.Gzip(t, data)), WithMaxDecompressedSize(int64(len(data))))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
}

func TestDecompress_MaxDecoderMemory(t *testing.T) {
	t.Parallel()

	data := scenario().Bytes()
	compressed := testutil.Zstd(t, data)

	_, err := Decompress(bytes.NewReader(compressed), CompressionZstd, WithMaxDecoderMemory(512))
	require.Error(t, err)

	src, err := Decompress(bytes.NewReader(compressed), CompressionZstd, WithMaxDecoderMemory(0))
	require.NoError(t, err)
	assert.Equal(t, data, src.Bytes())
}

func TestDecompress_Corrupt(t *testing.T) {
	t.Parallel()

	bad := append([]byte{0x1f, 0x8b}, bytes.Repeat([]byte{0xff}, 32)...)
	_, err := Decompress(bytes.NewReader(bad), CompressionGzip)
	require.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	data := scenario().Bytes()
	dir := t.TempDir()
	files := map[string][]byte{
		"plain.tar":   data,
		"archive.tgz": testutil.Gzip(t, data),
		"archive.zst": testutil.Zstd(t, data),
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o600))
	}

	for name := range files {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, err := OpenFile(filepath.Join(dir, name))
			require.NoError(t, err)
			t.Cleanup(func() { _ = f.Close() })

			count, err := f.Check()
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			buf := make([]byte, 8)
			_, _, err = f.ReadFile("dir/link", 0, buf)
			require.NoError(t, err)
			assert.Equal(t, "hello!!!", string(buf))
		})
	}

	t.Run("file source id", func(t *testing.T) {
		t.Parallel()
		f, err := OpenFile(filepath.Join(dir, "plain.tar"))
		require.NoError(t, err)
		defer f.Close()
		assert.True(t, strings.HasPrefix(f.Source().SourceID(), "file:"))
		require.NoError(t, f.Close())
		require.NoError(t, f.Close())
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		_, err := OpenFile(filepath.Join(dir, "missing.tar"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}
