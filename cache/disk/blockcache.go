// Package disk provides a block cache that persists across processes.
//
// Blocks are keyed by the source's SourceID, so a cache directory can be
// reused for the same remote archive between runs. Each block is one file
// named by its key, optionally under a subdirectory named by the key's first
// hex characters.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/ustar"
	"github.com/meigma/ustar/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// BlockCache stores archive blocks as files under a directory.
// It is safe for concurrent use, including by several processes sharing dir.
type BlockCache struct {
	dir      string
	shardLen int
	dirPerm  os.FileMode
	maxBytes int64

	bytes   atomic.Int64
	fills   singleflight.Group
	pruneMu sync.Mutex
}

// Option configures a BlockCache.
type Option func(*BlockCache)

// WithMaxBytes bounds the total size of stored blocks. The oldest blocks are
// removed to make room. Values <= 0 disable the bound.
func WithMaxBytes(n int64) Option {
	return func(c *BlockCache) { c.maxBytes = max(n, 0) }
}

// WithShardPrefixLen sets how many leading key characters name the
// subdirectory of a block. 0 stores all blocks directly in dir. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *BlockCache) { c.shardLen = n }
}

// WithDirPerm sets the permissions of directories the cache creates.
// Defaults to 0700.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *BlockCache) { c.dirPerm = mode }
}

// New opens the cache rooted at dir, creating it if needed. Blocks left by
// earlier runs count toward WithMaxBytes.
func New(dir string, opts ...Option) (*BlockCache, error) {
	if dir == "" {
		return nil, errors.New("block cache dir is empty")
	}
	c := &BlockCache{dir: dir, shardLen: defaultShardPrefixLen, dirPerm: defaultDirPerm}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardLen < 0 {
		return nil, fmt.Errorf("block cache shard prefix length %d must be >= 0", c.shardLen)
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, fmt.Errorf("scan block cache %s: %w", dir, err)
	}
	c.bytes.Store(size)
	return c, nil
}

// Wrap returns a ByteSource that reads src through the cache.
func (c *BlockCache) Wrap(src ustar.ByteSource, opts ...cache.WrapOption) (ustar.ByteSource, error) {
	return cache.NewSource(src, c, opts...)
}

// MaxBytes returns the size bound, 0 when unbounded.
func (c *BlockCache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the total size of stored blocks.
func (c *BlockCache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest blocks until at most targetBytes remain and
// returns the number of bytes freed.
func (c *BlockCache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// Block implements cache.Store. A stored block whose length is not length,
// for example one cut short by a crash, is replaced by a fresh fetch.
func (c *BlockCache) Block(key string, length int64, fetch func() ([]byte, error)) ([]byte, error) {
	v, err, _ := c.fills.Do(key, func() (any, error) {
		path := c.path(key)
		data, ok, err := c.load(path, length)
		if err != nil || ok {
			return data, err
		}
		if data, err = fetch(); err != nil {
			return nil, err
		}
		if int64(len(data)) != length {
			return nil, io.ErrUnexpectedEOF
		}
		// The block is served even when it cannot be stored.
		_ = c.store(path, data) //nolint:errcheck // storing is best-effort
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil //nolint:errcheck // Do returns []byte whenever err is nil
}

// load reads the block at path. A missing or wrong-sized block reports
// ok == false; a wrong-sized one is removed.
func (c *BlockCache) load(path string, length int64) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(path) //nolint:gosec // path is derived from a hash, not user input
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	case int64(len(data)) == length:
		return data, true, nil
	}
	if os.Remove(path) == nil {
		c.bytes.Add(-int64(len(data)))
	}
	return nil, false, nil
}

// store writes data to path unless it is already there or cannot fit.
func (c *BlockCache) store(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if fits, err := c.makeRoom(int64(len(data))); err != nil || !fits {
		return err
	}
	written, err := writeAtomic(path, data, c.dirPerm)
	if written {
		c.bytes.Add(int64(len(data)))
	}
	return err
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place, so readers never see a partial block. written is false when
// another writer got there first.
func writeAtomic(path string, data []byte, dirPerm os.FileMode) (written bool, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, err
	}
	if err = tmp.Close(); err != nil {
		return false, err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmp.Name())
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *BlockCache) path(key string) string {
	if c.shardLen == 0 {
		return filepath.Join(c.dir, key)
	}
	return filepath.Join(c.dir, key[:min(c.shardLen, len(key))], key)
}

// makeRoom prunes old blocks so that need more bytes fit. It reports false
// for blocks larger than the whole cache.
func (c *BlockCache) makeRoom(need int64) (bool, error) {
	switch {
	case c.maxBytes == 0:
		return true, nil
	case need > c.maxBytes:
		return false, nil
	case c.SizeBytes()+need <= c.maxBytes:
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
