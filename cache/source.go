package cache

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/meigma/ustar"
)

// NewSource returns a ByteSource that serves reads of src from whole blocks
// kept in store. BlockCache implementations call it from Wrap.
//
// Blocks are keyed by src.SourceID, so sources must report a stable,
// content-identifying ID; an empty ID is rejected.
func NewSource(src ustar.ByteSource, store Store, opts ...WrapOption) (ustar.ByteSource, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	cfg := DefaultWrapConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.BlockSize <= 0:
		return nil, errors.New("block cache: block size must be > 0")
	case cfg.BlockSize > math.MaxInt:
		return nil, errors.New("block cache: block size exceeds max int")
	case src.SourceID() == "":
		return nil, errors.New("block cache: source id is empty")
	}
	return &cachedSource{ByteSource: src, store: store, cfg: cfg}, nil
}

// cachedSource reads through store. Size and SourceID are those of the
// wrapped source.
type cachedSource struct {
	ustar.ByteSource
	store Store
	cfg   WrapConfig
}

// span is the part of one cache block that a read covers.
type span struct {
	index      int64 // block number
	start, end int64 // block bounds in the source
	from, to   int64 // covered bytes in the source
}

// spans splits [off, off+n) into per-block spans.
func (s *cachedSource) spans(off, n int64) []span {
	bs := s.cfg.BlockSize
	first, last := off/bs, (off+n-1)/bs
	out := make([]span, 0, last-first+1)
	for i := first; i <= last; i++ {
		start := i * bs
		end := min(start+bs, s.Size())
		out = append(out, span{
			index: i,
			start: start,
			end:   end,
			from:  max(off, start),
			to:    min(off+n, end),
		})
	}
	return out
}

func (s *cachedSource) ReadAt(p []byte, off int64) (int, error) {
	size := s.Size()
	switch {
	case len(p) == 0:
		return 0, nil
	case off < 0:
		return 0, fmt.Errorf("read at %d: negative offset", off)
	case off >= size:
		return 0, io.EOF
	}

	want := min(int64(len(p)), size-off)
	spans := s.spans(off, want)
	// Large payload reads go straight to the source instead of flooding the
	// cache with blocks no header scan will revisit.
	if limit := s.cfg.MaxBlocksPerRead; limit > 0 && len(spans) > limit {
		return s.ByteSource.ReadAt(p, off)
	}

	n := 0
	for _, sp := range spans {
		block, err := s.block(sp)
		if err != nil {
			return n, err
		}
		n += copy(p[sp.from-off:sp.to-off], block[sp.from-sp.start:sp.to-sp.start])
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *cachedSource) block(sp span) ([]byte, error) {
	length := sp.end - sp.start
	key := BlockKey(s.SourceID(), s.cfg.BlockSize, sp.index)
	data, err := s.store.Block(key, length, func() ([]byte, error) {
		buf := make([]byte, length)
		n, err := s.ByteSource.ReadAt(buf, sp.start)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if int64(n) != length {
			return nil, io.ErrUnexpectedEOF
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < length {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}
