package testutil

import (
	"bytes"
	"fmt"
	"time"
)

const blockSize = 512

// Builder assembles USTAR archives byte by byte, including malformed ones.
type Builder struct {
	buf     bytes.Buffer
	offsets []int64
	modTime time.Time
}

// NewBuilder returns an empty archive builder.
func NewBuilder() *Builder {
	return &Builder{modTime: time.Unix(1700000000, 0)}
}

// Dir appends a directory entry.
func (b *Builder) Dir(name string) *Builder {
	return b.Entry(name, '5', "", nil)
}

// File appends a regular file entry with type flag '0'.
func (b *Builder) File(name string, content []byte) *Builder {
	return b.Entry(name, '0', "", content)
}

// LegacyFile appends a regular file entry with the legacy NUL type flag.
func (b *Builder) LegacyFile(name string, content []byte) *Builder {
	return b.Entry(name, 0, "", content)
}

// Symlink appends a symbolic link entry.
func (b *Builder) Symlink(name, target string) *Builder {
	return b.Entry(name, '2', target, nil)
}

// Entry appends a header with the given type flag followed by its padded payload.
func (b *Builder) Entry(name string, typeflag byte, linkname string, content []byte) *Builder {
	hdr := Header(name, typeflag, linkname, int64(len(content)), b.modTime)
	b.offsets = append(b.offsets, int64(b.buf.Len()))
	b.buf.Write(hdr[:])
	b.buf.Write(content)
	if pad := len(content) % blockSize; pad != 0 {
		b.buf.Write(make([]byte, blockSize-pad))
	}
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf.Write(p)
	return b
}

// Offsets returns the byte offset of every header appended with Entry.
func (b *Builder) Offsets() []int64 {
	return append([]int64(nil), b.offsets...)
}

// Bytes returns the archive terminated by two zero blocks.
func (b *Builder) Bytes() []byte {
	out := make([]byte, 0, b.buf.Len()+2*blockSize)
	out = append(out, b.buf.Bytes()...)
	return append(out, make([]byte, 2*blockSize)...)
}

// Unterminated returns the archive without the trailing zero blocks.
func (b *Builder) Unterminated() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// Header builds a single valid USTAR header block.
func Header(name string, typeflag byte, linkname string, size int64, modTime time.Time) [blockSize]byte {
	var hdr [blockSize]byte
	copy(hdr[0:100], name)
	copy(hdr[100:], "0000644\x00")
	copy(hdr[108:], "0001750\x00")
	copy(hdr[116:], "0001750\x00")
	copy(hdr[124:], fmt.Sprintf("%011o\x00", size))
	copy(hdr[136:], fmt.Sprintf("%011o\x00", modTime.Unix()))
	hdr[156] = typeflag
	copy(hdr[157:257], linkname)
	copy(hdr[257:], "ustar\x0000")
	copy(hdr[265:], "ustar\x00")
	copy(hdr[297:], "ustar\x00")
	SetChecksum(hdr[:])
	return hdr
}

// SetChecksum recomputes and stores the checksum of the header block in hdr.
func SetChecksum(hdr []byte) {
	copy(hdr[148:156], "        ")
	var sum int64
	for _, c := range hdr[:blockSize] {
		sum += int64(c)
	}
	copy(hdr[148:], fmt.Sprintf("%06o\x00 ", sum))
}
