package index

import (
	"errors"
	"fmt"
	"iter"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/ustar/internal/fb"
	"github.com/meigma/ustar/internal/header"
)

// Version is the index format version written by Build.
const Version uint32 = 1

// Index provides access to the headers of an archive in archive order.
type Index struct {
	data   []byte
	root   *fb.Index
	byName map[string][]int
}

// Build encodes headers, which must be in archive order, into an index blob
// bound to the given source.
func Build(sourceID string, sourceSize int64, headers []header.Header) []byte {
	builder := flatbuffers.NewBuilder(1024 + 128*len(headers))

	// FlatBuffers are built back to front.
	offsets := make([]flatbuffers.UOffsetT, len(headers))
	for i := len(headers) - 1; i >= 0; i-- {
		h := &headers[i]
		name := builder.CreateString(h.Name)
		var link flatbuffers.UOffsetT
		if h.Linkname != "" {
			link = builder.CreateString(h.Linkname)
		}

		fb.EntryStart(builder)
		fb.EntryAddName(builder, name)
		fb.EntryAddTypeflag(builder, h.Typeflag)
		if h.Linkname != "" {
			fb.EntryAddLinkname(builder, link)
		}
		fb.EntryAddSize(builder, h.Size)
		fb.EntryAddMode(builder, h.Mode)
		fb.EntryAddMtime(builder, h.ModTime.Unix())
		fb.EntryAddOffset(builder, h.Offset)
		offsets[i] = fb.EntryEnd(builder)
	}

	fb.IndexStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entries := builder.EndVector(len(offsets))
	id := builder.CreateString(sourceID)

	fb.IndexStart(builder)
	fb.IndexAddVersion(builder, Version)
	fb.IndexAddSourceId(builder, id)
	fb.IndexAddSourceSize(builder, sourceSize)
	fb.IndexAddEntries(builder, entries)
	fb.FinishIndexBuffer(builder, fb.IndexEnd(builder))
	return builder.FinishedBytes()
}

// Load parses a FlatBuffers-encoded index blob.
//
// The provided data is retained by the index; callers must not modify it
// after calling Load.
func Load(data []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("ustar: failed to parse index: %v", r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, errors.New("ustar: empty index data")
	}

	root := fb.GetRootAsIndex(data, 0)
	if v := root.Version(); v != Version {
		return nil, fmt.Errorf("ustar: unsupported index version %d", v)
	}

	idx = &Index{
		data:   data,
		root:   root,
		byName: make(map[string][]int, root.EntriesLength()),
	}
	var e fb.Entry
	for i := range root.EntriesLength() {
		if !root.Entries(&e, i) {
			return nil, fmt.Errorf("ustar: index entry %d missing", i)
		}
		name := string(e.Name())
		idx.byName[name] = append(idx.byName[name], i)
	}
	return idx, nil
}

// Bytes returns the encoded index.
func (idx *Index) Bytes() []byte {
	return idx.data
}

// SourceID returns the identifier of the source the index was built from.
func (idx *Index) SourceID() string {
	return string(idx.root.SourceId())
}

// SourceSize returns the size of the source the index was built from.
func (idx *Index) SourceSize() int64 {
	return idx.root.SourceSize()
}

// Len returns the number of headers in the index.
func (idx *Index) Len() int {
	return idx.root.EntriesLength()
}

// At returns the i-th header in archive order.
func (idx *Index) At(i int) header.Header {
	var e fb.Entry
	idx.root.Entries(&e, i)
	return header.Header{
		Name:     string(e.Name()),
		Typeflag: e.Typeflag(),
		Linkname: string(e.Linkname()),
		Size:     e.Size(),
		Mode:     e.Mode(),
		ModTime:  time.Unix(e.Mtime(), 0),
		Offset:   e.Offset(),
	}
}

// Entries returns an iterator over all headers in archive order.
func (idx *Index) Entries() iter.Seq[header.Header] {
	return func(yield func(header.Header) bool) {
		for i := range idx.Len() {
			if !yield(idx.At(i)) {
				return
			}
		}
	}
}

// Lookup returns an iterator over the headers named exactly name, in archive order.
func (idx *Index) Lookup(name string) iter.Seq[header.Header] {
	return func(yield func(header.Header) bool) {
		for _, i := range idx.byName[name] {
			if !yield(idx.At(i)) {
				return
			}
		}
	}
}
