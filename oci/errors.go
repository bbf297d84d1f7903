package oci

import (
	"errors"
	"fmt"
	"net/http"

	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

var (
	// ErrNotFound reports a missing repository, manifest or layer.
	ErrNotFound = errors.New("oci: not found")
	// ErrUnauthorized reports rejected or missing credentials.
	ErrUnauthorized = errors.New("oci: unauthorized")
	// ErrForbidden reports credentials that lack pull access.
	ErrForbidden = errors.New("oci: forbidden")
	// ErrInvalidReference reports a reference that cannot be parsed or lacks
	// a tag or digest.
	ErrInvalidReference = errors.New("oci: invalid reference")
	// ErrManifestInvalid reports a manifest that cannot be decoded, is too
	// large, or is neither an image manifest nor an index.
	ErrManifestInvalid = errors.New("oci: invalid manifest")
	// ErrUnsupportedMediaType reports a layer that is not a tar stream.
	ErrUnsupportedMediaType = errors.New("oci: unsupported layer media type")
	// ErrSizeMismatch reports a blob whose served size differs from its descriptor.
	ErrSizeMismatch = errors.New("oci: size mismatch")
)

// orasErrors pairs ORAS sentinels with the error reported in their place.
var orasErrors = []struct {
	from, to error
}{
	{errdef.ErrNotFound, ErrNotFound},
	{errdef.ErrInvalidReference, ErrInvalidReference},
	{errdef.ErrMissingReference, ErrInvalidReference},
	{errdef.ErrSizeExceedsLimit, ErrManifestInvalid},
}

// statusErrors maps registry HTTP status codes.
var statusErrors = map[int]error{
	http.StatusNotFound:     ErrNotFound,
	http.StatusUnauthorized: ErrUnauthorized,
	http.StatusForbidden:    ErrForbidden,
}

// mapError rewrites ORAS and registry errors as this package's sentinels,
// keeping the original text. Unrecognized errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range orasErrors {
		if errors.Is(err, m.from) {
			return fmt.Errorf("%w: %v", m.to, err)
		}
	}
	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		if sentinel, ok := statusErrors[resp.StatusCode]; ok {
			return fmt.Errorf("%w: %v", sentinel, err)
		}
	}
	return err
}
