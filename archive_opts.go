package ustar

import "log/slog"

// DefaultMaxSymlinkDepth bounds how many symbolic links a single query follows.
const DefaultMaxSymlinkDepth = 40

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger used for debug output.
// A nil logger discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMaxSymlinkDepth limits how many symbolic links one query may follow
// before failing with ErrSymlinkCycle. Values <= 0 select DefaultMaxSymlinkDepth.
func WithMaxSymlinkDepth(n int) Option {
	return func(a *Archive) {
		if n <= 0 {
			n = DefaultMaxSymlinkDepth
		}
		a.maxLinkDepth = n
	}
}

// WithIndex builds a path table on the first query and answers later queries
// from it instead of rescanning the source. Check always reads the source.
func WithIndex() Option {
	return func(a *Archive) {
		a.indexEnabled = true
	}
}

// WithIndexData loads a path table previously returned by IndexData.
// New fails with ErrIndexMismatch if it was built for a different source.
func WithIndexData(data []byte) Option {
	return func(a *Archive) {
		a.indexEnabled = true
		a.indexData = data
	}
}

// WithSignedChecksums makes Check also accept headers whose checksum is the
// signed byte sum, as written by some historic tar implementations. By default
// only the unsigned sum is valid.
func WithSignedChecksums() Option {
	return func(a *Archive) {
		a.signedChecks = true
	}
}
