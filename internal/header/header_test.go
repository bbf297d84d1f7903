package header

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ustar/internal/testutil"
)

func block(t *testing.T, name string, typeflag byte, linkname string, size int64) *Block {
	t.Helper()
	raw := testutil.Header(name, typeflag, linkname, size, time.Unix(1700000000, 0))
	b := Block(raw)
	return &b
}

func TestBlock_Decode(t *testing.T) {
	t.Parallel()

	b := block(t, "dir/a.txt", TypeReg, "", 8)
	h, err := b.Decode(1024)
	require.NoError(t, err)

	assert.Equal(t, "dir/a.txt", h.Name)
	assert.Equal(t, TypeReg, h.Typeflag)
	assert.Equal(t, int64(8), h.Size)
	assert.Equal(t, int64(0o644), h.Mode)
	assert.Equal(t, int64(1700000000), h.ModTime.Unix())
	assert.Equal(t, int64(1024), h.Offset)
	assert.Equal(t, int64(1536), h.DataOffset())
	assert.Equal(t, int64(2048), h.NextOffset())
	assert.True(t, h.IsRegular())
	assert.Empty(t, h.Linkname)
}

func TestBlock_DecodeSymlink(t *testing.T) {
	t.Parallel()

	h, err := block(t, "dir/link", TypeSymlink, "a.txt", 0).Decode(0)
	require.NoError(t, err)
	assert.True(t, h.IsSymlink())
	assert.Equal(t, "a.txt", h.Linkname)
	assert.Equal(t, int64(BlockSize), h.NextOffset())
}

func TestBlock_DecodeKeepsFullWidthName(t *testing.T) {
	t.Parallel()

	name := strings.Repeat("n", 100)
	h, err := block(t, name, TypeReg, "", 0).Decode(0)
	require.NoError(t, err)
	assert.Equal(t, name, h.Name)
}

func TestBlock_DecodeNameStopsAtFirstNUL(t *testing.T) {
	t.Parallel()

	b := block(t, "abc", TypeReg, "", 0)
	copy(b[4:], "junk")
	h, err := b.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, "abc", h.Name)
}

func TestBlock_DecodePrefix(t *testing.T) {
	t.Parallel()

	b := block(t, "file.txt", TypeReg, "", 0)
	copy(b[prefixOff:], "some/long/prefix")
	h, err := b.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, "some/long/prefix/file.txt", h.Name)
}

func TestBlock_DecodeInvalidSize(t *testing.T) {
	t.Parallel()

	b := block(t, "a", TypeReg, "", 0)
	copy(b[sizeOff:], "9zzzzzzzzzz\x00")
	_, err := b.Decode(0)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestBlock_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(b *Block)
		wantErr error
	}{
		{name: "valid", mutate: func(*Block) {}},
		{
			name:    "bad magic",
			mutate:  func(b *Block) { b[magicOff] = 'X' },
			wantErr: ErrInvalidMagic,
		},
		{
			name:    "bad version",
			mutate:  func(b *Block) { b[versionOff] = '1' },
			wantErr: ErrInvalidVersion,
		},
		{
			name:    "bad checksum",
			mutate:  func(b *Block) { b[nameOff] = 'Z' },
			wantErr: ErrInvalidChecksum,
		},
		{
			name:    "garbage checksum field",
			mutate:  func(b *Block) { copy(b[chksumOff:], "xxxxxxx\x00") },
			wantErr: ErrInvalidChecksum,
		},
		{
			name: "magic reported before version and checksum",
			mutate: func(b *Block) {
				b[magicOff] = 'X'
				b[versionOff] = '1'
				b[nameOff] = 'Z'
			},
			wantErr: ErrInvalidMagic,
		},
		{
			name: "version reported before checksum",
			mutate: func(b *Block) {
				b[versionOff] = '1'
				b[nameOff] = 'Z'
			},
			wantErr: ErrInvalidVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := block(t, "dir/a.txt", TypeReg, "", 8)
			tt.mutate(b)
			err := b.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBlock_ValidateSignedChecksum(t *testing.T) {
	t.Parallel()

	b := block(t, "caf\xe9.txt", TypeReg, "", 0)
	unsigned, signed := b.Checksum()
	require.NotEqual(t, unsigned, signed)
	copy(b[chksumOff:], []byte(strings.Repeat(" ", chksumLen)))
	copy(b[chksumOff:], []byte(formatOctal(signed)))

	require.ErrorIs(t, b.Validate(), ErrInvalidChecksum)
	require.NoError(t, b.ValidateLegacy())
}

func TestBlock_ChecksumMatchesDeclared(t *testing.T) {
	t.Parallel()

	b := block(t, "x/y/z", TypeDir, "", 0)
	declared, err := parseOctal(b[chksumOff : chksumOff+chksumLen])
	require.NoError(t, err)
	unsigned, _ := b.Checksum()
	assert.Equal(t, declared, unsigned)
}

func TestPaddedSize(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int64 }{
		{0, 0},
		{1, 512},
		{511, 512},
		{512, 512},
		{513, 1024},
		{1024, 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PaddedSize(tt.in), "PaddedSize(%d)", tt.in)
	}
}

func TestParseOctal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		field   string
		want    int64
		wantErr bool
	}{
		{"00000000010\x00", 8, false},
		{"     17 \x00", 15, false},
		{"\x00\x00\x00", 0, false},
		{"", 0, false},
		{"8", 0, true},
		{"-1", 0, true},
	}
	for _, tt := range tests {
		got, err := parseOctal([]byte(tt.field))
		if tt.wantErr {
			assert.Error(t, err, "parseOctal(%q)", tt.field)
			continue
		}
		require.NoError(t, err, "parseOctal(%q)", tt.field)
		assert.Equal(t, tt.want, got, "parseOctal(%q)", tt.field)
	}
}

func TestCursor_Walk(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder().
		Dir("dir/").
		File("dir/a.txt", []byte("hello!!!")).
		File("dir/big", make([]byte, 1025)).
		Symlink("dir/link", "a.txt")
	data := b.Bytes()
	src := testutil.NewMockByteSource(data)

	c := NewCursor(src, src.Size())
	var names []string
	var offsets []int64
	for {
		h, err := c.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
		offsets = append(offsets, h.Offset)
	}
	assert.Equal(t, []string{"dir/", "dir/a.txt", "dir/big", "dir/link"}, names)
	assert.Equal(t, b.Offsets(), offsets)

	// The sentinel does not advance the cursor.
	stop := c.Offset()
	_, err := c.ReadBlock()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, stop, c.Offset())

	c.Rewind()
	assert.Equal(t, int64(0), c.Offset())
	h, err := c.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "dir/", h.Name)
}

func TestCursor_EndOfSourceWithoutSentinel(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().File("a", []byte("x")).Unterminated()
	c := NewCursor(testutil.NewMockByteSource(data), int64(len(data)))

	_, err := c.Next()
	require.NoError(t, err)
	_, err = c.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestCursor_TruncatedHeader(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().File("a", nil).Unterminated()
	data = append(data, make([]byte, 100)...)
	data[len(data)-1] = 1
	c := NewCursor(testutil.NewMockByteSource(data), int64(len(data)))

	_, err := c.Next()
	require.NoError(t, err)
	_, err = c.Next()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestCursor_Seek(t *testing.T) {
	t.Parallel()

	b := testutil.NewBuilder().File("a", []byte("1")).File("b", []byte("2"))
	data := b.Bytes()
	c := NewCursor(testutil.NewMockByteSource(data), int64(len(data)))

	require.Error(t, c.Seek(3))
	require.NoError(t, c.Seek(b.Offsets()[1]))
	h, err := c.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "b", h.Name)
}

func TestCursor_SkipPayloadNegative(t *testing.T) {
	t.Parallel()

	c := NewCursor(testutil.NewMockByteSource(nil), 0)
	require.ErrorIs(t, c.SkipPayload(-1), ErrInvalidSize)
}

func formatOctal(v int64) string {
	return fmt.Sprintf("%06o\x00 ", v)
}
