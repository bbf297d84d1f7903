package ustar

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/ustar/internal/header"
)

// Header validation errors re-exported from internal/header.
var (
	// ErrInvalidMagic is returned when a header's magic field is not "ustar\x00".
	ErrInvalidMagic = header.ErrInvalidMagic

	// ErrInvalidVersion is returned when a header's version field is not "00".
	ErrInvalidVersion = header.ErrInvalidVersion

	// ErrInvalidChecksum is returned when a header's declared checksum does not match.
	ErrInvalidChecksum = header.ErrInvalidChecksum

	// ErrInvalidSize is returned when a header's size field cannot be parsed.
	ErrInvalidSize = header.ErrInvalidSize

	// ErrTruncated is returned when the source ends inside a header or payload.
	ErrTruncated = header.ErrTruncated
)

// Query errors.
var (
	// ErrNotFound is returned when no header matches the requested path.
	// It is fs.ErrNotExist.
	ErrNotFound = fs.ErrNotExist

	// ErrOffsetOutOfRange is returned when a read offset lies outside the entry.
	ErrOffsetOutOfRange = errors.New("ustar: offset out of range")

	// ErrSymlinkCycle is returned when symbolic link resolution loops or exceeds
	// the configured depth.
	ErrSymlinkCycle = errors.New("ustar: symlink cycle")

	// ErrIndexMismatch is returned when a persisted index belongs to another source.
	ErrIndexMismatch = errors.New("ustar: index does not match source")

	// ErrWrongType is returned when a path exists but names an entry of another
	// kind than the operation requires. errors.Is(err, ErrNotFound) also holds
	// for it, so callers that only need a usable entry can test ErrNotFound.
	ErrWrongType error = wrongTypeError{}
)

type wrongTypeError struct{}

func (wrongTypeError) Error() string { return "ustar: wrong entry type" }

func (wrongTypeError) Is(target error) bool { return target == fs.ErrNotExist }

// HeaderError reports a structural problem with the header at Offset.
type HeaderError struct {
	Offset int64
	Name   string
	Err    error
}

func (e *HeaderError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("header at %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("header %q at %d: %v", e.Name, e.Offset, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}
