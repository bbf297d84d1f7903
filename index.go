package ustar

import (
	"fmt"

	"github.com/meigma/ustar/internal/index"
)

// IndexData returns the FlatBuffers-encoded path table of the archive,
// building it with one full scan if it does not exist yet. The result can be
// persisted and passed to WithIndexData for the same source.
//
// The returned slice aliases the archive's index and must not be modified.
func (a *Archive) IndexData() ([]byte, error) {
	idx, err := a.buildIndex()
	if err != nil {
		return nil, err
	}
	return idx.Bytes(), nil
}

// index returns the path table when indexing is enabled, building it on first
// use. It returns nil when queries should scan the source instead.
func (a *Archive) index() *index.Index {
	if idx := a.idx.Load(); idx != nil {
		return idx
	}
	if !a.indexEnabled || a.indexFailed.Load() {
		return nil
	}
	idx, err := a.buildIndex()
	if err != nil {
		// Later queries scan and surface the same error themselves.
		a.indexFailed.Store(true)
		a.log().Debug("index build failed, falling back to scans", "error", err)
		return nil
	}
	return idx
}

// buildIndex scans the source once and stores the resulting path table.
// Concurrent callers share a single scan.
func (a *Archive) buildIndex() (*index.Index, error) {
	if idx := a.idx.Load(); idx != nil {
		return idx, nil
	}
	v, err, _ := a.indexGroup.Do("index", func() (any, error) {
		if idx := a.idx.Load(); idx != nil {
			return idx, nil
		}
		var headers []Entry
		for h, err := range a.scan() {
			if err != nil {
				return nil, fmt.Errorf("build index: %w", err)
			}
			headers = append(headers, h)
		}
		idx, err := index.Load(index.Build(a.src.SourceID(), a.src.Size(), headers))
		if err != nil {
			return nil, err
		}
		a.idx.Store(idx)
		a.log().Debug("index built", "entries", idx.Len(), "source", a.src.SourceID())
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Index), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// loadIndex parses data and checks that it was built for src.
func loadIndex(data []byte, src ByteSource) (*index.Index, error) {
	idx, err := index.Load(data)
	if err != nil {
		return nil, err
	}
	if idx.SourceID() != src.SourceID() || idx.SourceSize() != src.Size() {
		return nil, fmt.Errorf("%w: index built for %q (%d bytes), source is %q (%d bytes)",
			ErrIndexMismatch, idx.SourceID(), idx.SourceSize(), src.SourceID(), src.Size())
	}
	return idx, nil
}
