package header

import (
	"errors"
	"fmt"
	"io"
)

// Cursor walks an archive one block at a time from an explicit offset.
//
// A Cursor never relies on a shared stream position: every read is an
// io.ReaderAt call at the cursor's own offset, so independent cursors over
// the same source do not interfere. A Cursor is not safe for concurrent use.
type Cursor struct {
	r     io.ReaderAt
	size  int64
	off   int64
	block Block
}

// NewCursor returns a cursor positioned at offset 0 of a source of the given size.
func NewCursor(r io.ReaderAt, size int64) *Cursor {
	return &Cursor{r: r, size: size}
}

// Offset returns the current byte offset.
func (c *Cursor) Offset() int64 {
	return c.off
}

// Rewind resets the cursor to offset 0.
func (c *Cursor) Rewind() {
	c.off = 0
}

// Seek positions the cursor at off, which must be block aligned.
func (c *Cursor) Seek(off int64) error {
	if off < 0 || off%BlockSize != 0 {
		return fmt.Errorf("seek %d: offset is not block aligned", off)
	}
	c.off = off
	return nil
}

// ReadBlock reads the block at the cursor and advances past it.
//
// It returns io.EOF at the end of the source or when the block is the
// all-zero end-of-archive sentinel; the cursor does not advance in that case.
// The returned block is overwritten by the next call.
func (c *Cursor) ReadBlock() (*Block, error) {
	if c.off >= c.size {
		return nil, io.EOF
	}
	if c.size-c.off < BlockSize {
		return nil, fmt.Errorf("header at %d: %w", c.off, ErrTruncated)
	}
	n, err := c.r.ReadAt(c.block[:], c.off)
	if n < BlockSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrTruncated
		}
		return nil, fmt.Errorf("header at %d: %w", c.off, err)
	}
	if c.block.IsZero() {
		return nil, io.EOF
	}
	c.off += BlockSize
	return &c.block, nil
}

// ReadHeader reads and decodes the header at the cursor.
// It returns io.EOF under the same conditions as ReadBlock.
func (c *Cursor) ReadHeader() (Header, error) {
	off := c.off
	b, err := c.ReadBlock()
	if err != nil {
		return Header{}, err
	}
	return b.Decode(off)
}

// SkipPayload advances past a payload of size bytes and its block padding.
func (c *Cursor) SkipPayload(size int64) error {
	if size < 0 {
		return fmt.Errorf("skip payload: %w: negative size %d", ErrInvalidSize, size)
	}
	c.off += PaddedSize(size)
	return nil
}

// Next reads the next header and positions the cursor at the header after it.
func (c *Cursor) Next() (Header, error) {
	h, err := c.ReadHeader()
	if err != nil {
		return Header{}, err
	}
	if err := c.SkipPayload(h.Size); err != nil {
		return Header{}, err
	}
	return h, nil
}
