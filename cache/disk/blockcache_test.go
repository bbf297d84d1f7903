package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ustar/cache"
	"github.com/meigma/ustar/internal/testutil"
)

func TestBlockCacheReadAtReuse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	src := testutil.NewMockByteSource([]byte("abcdefghijklmnopqrstuvwxyz"))
	cached, err := c.Wrap(src, cache.WithBlockSize(8))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := cached.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(buf[:n]))
	assert.Equal(t, int64(1), src.Reads())
	assert.Equal(t, int64(8), c.SizeBytes())

	n, err = cached.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "efgh", string(buf[:n]))
	assert.Equal(t, int64(1), src.Reads())

	key := cache.BlockKey(src.SourceID(), 8, 0)
	_, err = os.Stat(filepath.Join(dir, key[:defaultShardPrefixLen], key))
	require.NoError(t, err)
}

func TestBlockCachePersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := []byte("abcdefghijklmnopqrstuvwxyz")

	first, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)
	src := testutil.NewMockByteSource(data)
	cached, err := first.Wrap(src, cache.WithBlockSize(8))
	require.NoError(t, err)
	_, err = cached.ReadAt(make([]byte, 26), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(26), first.SizeBytes())

	second, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)
	assert.Equal(t, int64(26), second.SizeBytes())

	fresh := testutil.NewMockByteSource(data)
	cached, err = second.Wrap(fresh, cache.WithBlockSize(8))
	require.NoError(t, err)
	buf := make([]byte, 5)
	n, err := cached.ReadAt(buf, 20)
	require.NoError(t, err)
	assert.Equal(t, "uvwxy", string(buf[:n]))
	assert.Zero(t, fresh.Reads())
}

func TestBlockCacheDiscardsShortBlocks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)

	src := testutil.NewMockByteSource([]byte("abcdefgh"))
	key := cache.BlockKey(src.SourceID(), 8, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, key), []byte("abc"), 0o600))

	cached, err := c.Wrap(src, cache.WithBlockSize(8))
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := cached.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(buf[:n]))
	assert.Equal(t, int64(1), src.Reads())
}

func TestBlockCacheMaxBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(16), WithShardPrefixLen(0))
	require.NoError(t, err)
	assert.Equal(t, int64(16), c.MaxBytes())

	src := testutil.NewMockByteSource([]byte("abcdefghijklmnopqrstuvwx"))
	cached, err := c.Wrap(src, cache.WithBlockSize(8))
	require.NoError(t, err)

	buf := make([]byte, 1)
	for _, off := range []int64{0, 8} {
		_, err := cached.ReadAt(buf, off)
		require.NoError(t, err)
	}
	// Make block 0 strictly older than block 1.
	old := time.Now().Add(-time.Hour)
	key0 := cache.BlockKey(src.SourceID(), 8, 0)
	require.NoError(t, os.Chtimes(filepath.Join(dir, key0), old, old))

	_, err = cached.ReadAt(buf, 16)
	require.NoError(t, err)
	assert.LessOrEqual(t, c.SizeBytes(), int64(16))

	_, err = os.Stat(filepath.Join(dir, key0))
	require.ErrorIs(t, err, os.ErrNotExist)

	// Blocks larger than the whole cache are served but not stored.
	big, err := c.Wrap(src, cache.WithBlockSize(24))
	require.NoError(t, err)
	n, err := big.ReadAt(make([]byte, 24), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	assert.LessOrEqual(t, c.SizeBytes(), int64(16))
}

func TestBlockCachePrune(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	src := testutil.NewMockByteSource([]byte("abcdefghijklmnopqrstuvwxyz"))
	cached, err := c.Wrap(src, cache.WithBlockSize(8), cache.WithMaxBlocksPerRead(0))
	require.NoError(t, err)
	_, err = cached.ReadAt(make([]byte, 26), 0)
	require.NoError(t, err)

	freed, err := c.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, int64(26), freed)
	assert.Zero(t, c.SizeBytes())
}

func TestBlockCacheDirPerm(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "blocks")
	c, err := New(dir, WithDirPerm(0o700))
	require.NoError(t, err)

	src := testutil.NewMockByteSource([]byte("abcdefgh"))
	cached, err := c.Wrap(src, cache.WithBlockSize(8))
	require.NoError(t, err)
	_, err = cached.ReadAt(make([]byte, 8), 0)
	require.NoError(t, err)

	key := cache.BlockKey(src.SourceID(), 8, 0)
	for _, d := range []string{dir, filepath.Join(dir, key[:defaultShardPrefixLen])} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), d)
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)

	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
}
