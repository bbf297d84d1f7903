// Package cache wraps archive sources with a block-level read cache.
//
// A USTAR query walks the headers from the start of the archive, so repeated
// queries against a remote source reread the same header blocks. Wrapping the
// source keeps those blocks in memory (NewMemory) or on disk (package
// cache/disk) so only the first pass pays for the round trips:
//
//	src, err := ustarhttp.NewSource(url)
//	...
//	cached, err := cache.NewMemory(64 << 20).Wrap(src)
//	...
//	archive, err := ustar.New(cached)
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/meigma/ustar"
)

// BlockCache wraps ByteSources with block-level caching.
//
// Block caching is most effective for scattered small reads such as header
// scans. Large payload reads bypass the cache once they span more than
// MaxBlocksPerRead blocks.
type BlockCache interface {
	// Wrap returns a ByteSource that caches reads from src in fixed-size blocks.
	Wrap(src ustar.ByteSource, opts ...WrapOption) (ustar.ByteSource, error)

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached blocks until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)
}

// Store holds cached blocks by key. Block returns the block stored under key,
// calling fetch and storing its result on a miss. Implementations must
// deduplicate concurrent fetches of the same key.
type Store interface {
	Block(key string, length int64, fetch func() ([]byte, error)) ([]byte, error)
}

// DefaultBlockSize is the default block size used by block caches.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead caps cached blocks per ReadAt to keep large
// sequential payload reads out of the cache.
const DefaultMaxBlocksPerRead = 4

// WrapConfig controls block cache wrapping behavior.
type WrapConfig struct {
	// BlockSize is the size in bytes of each cached block. It should be a
	// multiple of the 512-byte record size so headers never straddle blocks.
	BlockSize int64

	// MaxBlocksPerRead is the maximum number of blocks that will be cached
	// for a single ReadAt call. Reads spanning more blocks than this limit
	// go straight to the source. Use 0 to disable the limit.
	MaxBlocksPerRead int
}

// DefaultWrapConfig returns the default block cache configuration.
func DefaultWrapConfig() WrapConfig {
	return WrapConfig{
		BlockSize:        DefaultBlockSize,
		MaxBlocksPerRead: DefaultMaxBlocksPerRead,
	}
}

// WrapOption configures block cache wrapping behavior.
type WrapOption func(*WrapConfig)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) WrapOption {
	return func(cfg *WrapConfig) {
		cfg.BlockSize = n
	}
}

// WithMaxBlocksPerRead bypasses caching when a ReadAt spans more than n blocks.
// Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(cfg *WrapConfig) {
		cfg.MaxBlocksPerRead = max(n, 0)
	}
}

// BlockKey returns the hex key of one block of a source. Keys differ for
// different sources, block sizes and block numbers.
func BlockKey(sourceID string, blockSize, blockIndex int64) string {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte(sourceID)) //nolint:errcheck // hash writes never fail

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(blockSize))  //nolint:gosec // blockSize validated > 0
	binary.BigEndian.PutUint64(buf[8:], uint64(blockIndex)) //nolint:gosec // blockIndex always >= 0
	_, _ = hasher.Write(buf[:])                             //nolint:errcheck // hash writes never fail

	return hex.EncodeToString(hasher.Sum(nil))
}
