package http_test

import (
	"bytes"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ustar"
	ustarhttp "github.com/meigma/ustar/http"
	"github.com/meigma/ustar/internal/testutil"
)

func serve(t *testing.T, data []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var gets atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodGet {
			gets.Add(1)
		}
		w.Header().Set("ETag", `"v1"`)
		nethttp.ServeContent(w, r, "archive.tar", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server, &gets
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server, _ := serve(t, data)

	src, err := ustarhttp.NewSource(server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Equal(t, server.URL+"@v1", src.SourceID())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, "world", string(buf))

	edge := make([]byte, 10)
	n, err = src.ReadAt(edge, int64(len(data)-3))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)
	assert.Equal(t, "rld", string(edge[:n]))

	n, err = src.ReadAt(buf, int64(len(data)))
	require.ErrorIs(t, err, io.EOF)
	assert.Zero(t, n)
}

func TestSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		_, _ = w.Write(data) //nolint:errcheck // test server
	}))
	t.Cleanup(server.Close)

	_, err := ustarhttp.NewSource(server.URL)
	require.ErrorIs(t, err, ustarhttp.ErrRangeUnsupported)
}

func TestSourceOptions(t *testing.T) {
	t.Parallel()

	var auth atomic.Value
	data := []byte("payload")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		auth.Store(r.Header.Get("Authorization"))
		nethttp.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := ustarhttp.NewSource(server.URL,
		ustarhttp.WithClient(server.Client()),
		ustarhttp.WithHeader("Authorization", "Bearer token"),
		ustarhttp.WithSourceID("sha256:abc"),
	)
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", src.SourceID())
	assert.Equal(t, "Bearer token", auth.Load())
}

func TestSourceRemoteChanged(t *testing.T) {
	t.Parallel()

	var version atomic.Int64
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("ETag", `"v`+strconv.FormatInt(version.Load(), 10)+`"`)
		nethttp.ServeContent(w, r, "archive.tar", time.Time{}, bytes.NewReader([]byte("hello world")))
	}))
	t.Cleanup(server.Close)

	src, err := ustarhttp.NewSource(server.URL)
	require.NoError(t, err)
	_, err = src.ReadAt(make([]byte, 5), 0)
	require.NoError(t, err)

	version.Add(1)
	_, err = src.ReadAt(make([]byte, 5), 0)
	require.ErrorIs(t, err, ustarhttp.ErrRemoteChanged)
}

func TestSourceEmpty(t *testing.T) {
	t.Parallel()

	server, _ := serve(t, nil)
	src, err := ustarhttp.NewSource(server.URL)
	require.NoError(t, err)
	assert.Zero(t, src.Size())
	assert.Equal(t, server.URL+"@v1", src.SourceID())

	a, err := ustar.New(src)
	require.NoError(t, err)
	count, err := a.Check()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSourceServesArchiveQueries(t *testing.T) {
	t.Parallel()

	data := testutil.NewBuilder().
		Dir("dir/").
		File("dir/a.txt", []byte("hello!!!")).
		Symlink("dir/link", "a.txt").
		Bytes()
	server, gets := serve(t, data)

	src, err := ustarhttp.NewSource(server.URL)
	require.NoError(t, err)
	archive, err := ustar.New(src, ustar.WithIndex())
	require.NoError(t, err)

	count, err := archive.Check()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	buf := make([]byte, 8)
	n, remaining, err := archive.ReadFile("dir/link", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Zero(t, remaining)
	assert.Equal(t, "hello!!!", string(buf))

	// Once the index exists, listing does not touch the network.
	before := gets.Load()
	names := make([]string, 4)
	n, err = archive.List("dir", names)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/a.txt", "dir/link"}, names[:n])
	assert.Equal(t, before, gets.Load())
}
