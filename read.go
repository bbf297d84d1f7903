package ustar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// ReadFile copies payload bytes of the regular file at path, starting at
// offset, into dst. It returns the number of bytes copied and how many bytes
// of the payload remain after them.
//
// A symbolic link is followed to the first entry carrying its target's
// basename. An offset outside [0, size] fails with ErrOffsetOutOfRange; an
// offset equal to the size copies nothing. A path that exists with another
// type fails with ErrWrongType.
func (a *Archive) ReadFile(path string, offset int64, dst []byte) (n int, remaining int64, err error) {
	h, err := a.resolve("read", path, exactName, (*Entry).IsRegular)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 || offset > h.Size {
		return 0, 0, &fs.PathError{Op: "read", Path: path, Err: fmt.Errorf("%w: %d not in [0, %d]", ErrOffsetOutOfRange, offset, h.Size)}
	}

	want := min(int64(len(dst)), h.Size-offset)
	if want > 0 {
		got, err := a.src.ReadAt(dst[:want], h.DataOffset()+offset)
		if int64(got) < want {
			if err == nil || errors.Is(err, io.EOF) {
				err = ErrTruncated
			}
			return got, h.Size - offset - int64(got), &fs.PathError{Op: "read", Path: path, Err: err}
		}
	}
	return int(want), h.Size - offset - want, nil
}

// Payload returns a reader over the payload of the regular file at path,
// following symbolic links like ReadFile.
func (a *Archive) Payload(path string) (*io.SectionReader, error) {
	h, err := a.resolve("open", path, exactName, (*Entry).IsRegular)
	if err != nil {
		return nil, err
	}
	if h.DataOffset()+h.Size > a.src.Size() {
		return nil, &fs.PathError{Op: "open", Path: path, Err: ErrTruncated}
	}
	return io.NewSectionReader(a.src, h.DataOffset(), h.Size), nil
}
