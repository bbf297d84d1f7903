package ustar

import (
	"cmp"
	"errors"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/ustar/internal/header"
	"github.com/meigma/ustar/internal/index"
)

// Entry is the decoded header of one archive member.
type Entry = header.Header

// Type flags recognized by the accessor. Other flags are reported as-is by
// Lookup and Entries but never match a type query.
const (
	TypeReg     = header.TypeReg
	TypeRegA    = header.TypeRegA
	TypeSymlink = header.TypeSymlink
	TypeDir     = header.TypeDir
)

// BlockSize is the USTAR block size.
const BlockSize = header.BlockSize

// ByteSource provides random access to the archive bytes.
//
// Implementations exist for byte slices, local files, io.ReadSeeker handles
// and HTTP range requests. SourceID must return a stable identifier for the
// underlying content.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// Archive answers queries against a USTAR archive.
//
// Archive holds no cursor between calls: each query walks the source with
// its own header.Cursor. It is safe for concurrent use when the ByteSource is.
type Archive struct {
	src          ByteSource
	logger       *slog.Logger
	maxLinkDepth int
	signedChecks bool
	indexEnabled bool
	indexData    []byte
	idx          atomic.Pointer[index.Index]
	indexFailed  atomic.Bool
	indexGroup   singleflight.Group
}

// New creates an Archive reading from src.
func New(src ByteSource, opts ...Option) (*Archive, error) {
	if src == nil {
		return nil, errors.New("ustar: source is nil")
	}
	a := &Archive{
		src:          src,
		maxLinkDepth: DefaultMaxSymlinkDepth,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.indexData != nil {
		idx, err := loadIndex(a.indexData, src)
		if err != nil {
			return nil, err
		}
		a.idx.Store(idx)
		a.log().Debug("index loaded", "entries", idx.Len(), "source", src.SourceID())
	}
	return a, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Source returns the underlying ByteSource.
func (a *Archive) Source() ByteSource {
	return a.src
}

// Entries returns an iterator over all headers in archive order, stopping at
// the end-of-archive sentinel. A decoding error is yielded once and ends the
// iteration.
func (a *Archive) Entries() iter.Seq2[Entry, error] {
	if idx := a.index(); idx != nil {
		return func(yield func(Entry, error) bool) {
			for h := range idx.Entries() {
				if !yield(h, nil) {
					return
				}
			}
		}
	}
	return a.scan()
}

// scan walks the source from offset 0.
func (a *Archive) scan() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		c := header.NewCursor(a.src, a.src.Size())
		for {
			off := c.Offset()
			h, err := c.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Entry{}, &HeaderError{Offset: off, Err: err})
				return
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}

// named returns an iterator over the headers whose name is one of names, in
// archive order.
func (a *Archive) named(names ...string) iter.Seq2[Entry, error] {
	if idx := a.index(); idx != nil {
		return func(yield func(Entry, error) bool) {
			var matches []Entry
			for _, name := range names {
				for h := range idx.Lookup(name) {
					matches = append(matches, h)
				}
			}
			if len(names) > 1 {
				slices.SortFunc(matches, func(x, y Entry) int {
					return cmp.Compare(x.Offset, y.Offset)
				})
			}
			for _, h := range matches {
				if !yield(h, nil) {
					return
				}
			}
		}
	}
	return func(yield func(Entry, error) bool) {
		for h, err := range a.scan() {
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !slices.Contains(names, h.Name) {
				continue
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}
