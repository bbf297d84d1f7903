package ustar

import (
	"io"

	"github.com/meigma/ustar/internal/header"
)

// Check validates every header of the archive and returns the number of
// headers before the end-of-archive sentinel.
//
// For each header the magic field is checked first, then the version, then
// the checksum, which must be the unsigned byte sum unless WithSignedChecksums
// is set. The first violation anywhere in the archive aborts the scan and is
// returned wrapped in a *HeaderError, with a count of 0. Check always reads
// the source, even when an index is loaded.
func (a *Archive) Check() (int, error) {
	size := a.src.Size()
	c := header.NewCursor(a.src, size)
	count := 0
	for {
		off := c.Offset()
		b, err := c.ReadBlock()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, a.checkFailed(&HeaderError{Offset: off, Err: err})
		}
		validate := b.Validate
		if a.signedChecks {
			validate = b.ValidateLegacy
		}
		if err := validate(); err != nil {
			return 0, a.checkFailed(&HeaderError{Offset: off, Name: b.Name(), Err: err})
		}
		h, err := b.Decode(off)
		if err != nil {
			return 0, a.checkFailed(&HeaderError{Offset: off, Name: b.Name(), Err: err})
		}
		if h.DataOffset()+h.Size > size {
			return 0, a.checkFailed(&HeaderError{Offset: off, Name: h.Name, Err: ErrTruncated})
		}
		count++
		if err := c.SkipPayload(h.Size); err != nil {
			return 0, a.checkFailed(&HeaderError{Offset: off, Name: h.Name, Err: err})
		}
	}
}

func (a *Archive) checkFailed(err *HeaderError) error {
	a.log().Debug("archive check failed", "offset", err.Offset, "name", err.Name, "error", err.Err)
	return err
}
