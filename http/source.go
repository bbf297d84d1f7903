// Package http provides a ustar.ByteSource backed by HTTP range requests, so
// archives can be queried without downloading them.
//
// Every header a query visits costs one range request of BlockSize bytes.
// Enable the archive index (ustar.WithIndex) or wrap the source in a block
// cache when a remote archive is queried more than once.
package http

import (
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

var (
	// ErrRangeUnsupported is returned when the server ignores Range headers.
	ErrRangeUnsupported = errors.New("http: range requests not supported")

	// ErrRemoteChanged is returned by ReadAt when the remote archive no longer
	// matches the version seen by NewSource.
	ErrRemoteChanged = errors.New("http: remote archive changed")
)

// Source reads a remote archive with HTTP range requests.
// It satisfies ustar.ByteSource.
type Source struct {
	url      string
	client   *nethttp.Client
	headers  nethttp.Header
	sourceID string
	meta     remoteMeta
}

// remoteMeta identifies the version of the remote archive.
type remoteMeta struct {
	size         int64
	etag         string
	lastModified string
}

func metaFrom(resp *nethttp.Response, size int64) remoteMeta {
	return remoteMeta{
		size:         size,
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client. A nil client selects http.DefaultClient.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) { s.client = client }
}

// WithHeaders adds headers, such as credentials, to every request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		for key, values := range headers {
			for _, v := range values {
				s.header().Add(key, v)
			}
		}
	}
}

// WithHeader sets one header on every request.
func WithHeader(key, value string) Option {
	return func(s *Source) { s.header().Set(key, value) }
}

// WithSourceID overrides the identifier reported by SourceID, for example
// with the content digest of a registry blob.
func WithSourceID(id string) Option {
	return func(s *Source) { s.sourceID = id }
}

func (s *Source) header() nethttp.Header {
	if s.headers == nil {
		s.headers = make(nethttp.Header)
	}
	return s.headers
}

// NewSource opens the archive at url. It learns the archive size with a HEAD
// request and a one-byte range request, failing with ErrRangeUnsupported when
// the server cannot serve ranges.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{url: url}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}

	meta, err := s.fetchMeta()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	s.meta = meta
	if s.sourceID == "" {
		s.sourceID = url
		if meta.etag != "" {
			s.sourceID += "@" + strings.Trim(meta.etag, `"`)
		}
	}
	return s, nil
}

// Size returns the size of the remote archive.
func (s *Source) Size() int64 {
	return s.meta.size
}

// SourceID returns the URL joined with the archive's ETag, unless overridden
// with WithSourceID.
func (s *Source) SourceID() string {
	return s.sourceID
}

// ReadAt reads len(p) bytes at off with a single range request. Requests are
// conditional on the version seen by NewSource; a replaced archive fails with
// ErrRemoteChanged rather than mixing versions within one query.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	switch {
	case len(p) == 0:
		return 0, nil
	case off < 0:
		return 0, fmt.Errorf("read at %d: negative offset", off)
	case off >= s.meta.size:
		return 0, io.EOF
	}

	want := min(int64(len(p)), s.meta.size-off)
	resp, err := s.get(off, off+want-1, true)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusPreconditionFailed:
		return 0, fmt.Errorf("read at %d: %w", off, ErrRemoteChanged)
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, fmt.Errorf("read at %d: %s", off, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("read at %d: %w", off, err)
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// fetchMeta combines HEAD with a bytes=0-0 request. HEAD is optional; when it
// succeeds the two sizes must agree.
func (s *Source) fetchMeta() (remoteMeta, error) {
	head := remoteMeta{size: -1}
	if req, err := s.newRequest(nethttp.MethodHead, false); err == nil {
		if resp, err := s.client.Do(req); err == nil {
			if resp.StatusCode == nethttp.StatusOK {
				head = metaFrom(resp, resp.ContentLength)
			}
			drain(resp)
		}
	}

	resp, err := s.get(0, 0, false)
	if err != nil {
		return remoteMeta{}, err
	}
	defer drain(resp)

	var meta remoteMeta
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return remoteMeta{}, err
		}
		meta = metaFrom(resp, size)
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// bytes=0-0 cannot be satisfied by an empty archive.
		size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || size != 0 {
			return remoteMeta{}, fmt.Errorf("range request failed: %s", resp.Status)
		}
		meta = metaFrom(resp, 0)
	case nethttp.StatusOK:
		// Servers answer a range over an empty object with the whole, empty body.
		if resp.ContentLength != 0 {
			return remoteMeta{}, ErrRangeUnsupported
		}
		meta = metaFrom(resp, 0)
	default:
		return remoteMeta{}, fmt.Errorf("range request failed: %s", resp.Status)
	}

	if head.size > 0 && head.size != meta.size {
		return remoteMeta{}, fmt.Errorf("content size mismatch: head=%d range=%d", head.size, meta.size)
	}
	if head.etag != "" {
		meta.etag = head.etag
	}
	if head.lastModified != "" {
		meta.lastModified = head.lastModified
	}
	return meta, nil
}

// get requests bytes [first, last]. Conditional requests carry the
// preconditions recorded by NewSource.
func (s *Source) get(first, last int64, conditional bool) (*nethttp.Response, error) {
	req, err := s.newRequest(nethttp.MethodGet, conditional)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(first, 10)+"-"+strconv.FormatInt(last, 10))
	return s.client.Do(req)
}

func (s *Source) newRequest(method string, conditional bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequest(method, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = s.headers.Clone()
	if req.Header == nil {
		req.Header = make(nethttp.Header)
	}
	// Ranges address the stored bytes, not a transfer encoding of them.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if conditional {
		setIfEmpty(req.Header, "If-Match", s.meta.etag)
		setIfEmpty(req.Header, "If-Unmodified-Since", s.meta.lastModified)
	}
	return req, nil
}

func setIfEmpty(h nethttp.Header, key, value string) {
	if value != "" && h.Get(key) == "" {
		h.Set(key, value)
	}
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for connection reuse
	_ = resp.Body.Close()
}

// parseContentRange returns the complete length from a Content-Range value
// such as "bytes 0-0/1234" or "bytes */1234".
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
