package oci

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/ustar"
	"github.com/meigma/ustar/cache"
	ustarhttp "github.com/meigma/ustar/http"
)

// Client opens image layers stored in remote OCI registries.
//
// Uncompressed layers are read in place with HTTP range requests whenever the
// registry accepts the client's static credentials for direct blob access;
// every other layer is downloaded, verified and decompressed into memory.
type Client struct {
	plainHTTP       bool
	userAgent       string
	anonymous       bool // skip credential lookup entirely
	credStore       credentials.Store
	authClient      *auth.Client
	authHeaderCache *authHeaderCache
	httpClient      *http.Client
	blockCache      cache.BlockCache
	logger          *slog.Logger
}

// New creates a new OCI client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		userAgent:       "ustar/1.0",
		authHeaderCache: newAuthHeaderCache(defaultAuthHeaderCacheTTL),
		httpClient:      retry.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.authClient = &auth.Client{
		Client: c.httpClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if c.anonymous || c.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return c.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{c.userAgent},
		},
	}
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Repository returns the remote repository named by ref, authenticated with
// the client's credentials. It satisfies oras.ReadOnlyTarget.
func (c *Client) Repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient
	return repo, nil
}

// Layers returns the layer descriptors of the image at ref, a full reference
// with a tag or digest such as "registry.example.com/app:v1".
func (c *Client) Layers(ctx context.Context, ref string) ([]ocispec.Descriptor, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	if parsed.Reference == "" {
		return nil, fmt.Errorf("%w: %q has no tag or digest", ErrInvalidReference, ref)
	}
	repo, err := c.Repository(ref)
	if err != nil {
		return nil, err
	}
	return Layers(ctx, repo, parsed.Reference)
}

// OpenLayer opens the layer desc of the repository named by ref.
//
// Uncompressed layers are first opened lazily over HTTP range requests; when
// the registry refuses direct access the layer is fetched like a compressed one.
func (c *Client) OpenLayer(ctx context.Context, ref string, desc ocispec.Descriptor, opts ...ustar.Option) (*ustar.Archive, error) {
	compression, err := LayerCompression(desc.MediaType)
	if err != nil {
		return nil, err
	}
	if compression == ustar.CompressionNone {
		a, err := c.openRange(ctx, ref, desc, opts...)
		if err == nil {
			return a, nil
		}
		c.log().Debug("range access unavailable, fetching layer", "ref", ref, "digest", desc.Digest, "error", err)
	}

	repo, err := c.Repository(ref)
	if err != nil {
		return nil, err
	}
	return OpenLayer(ctx, repo.Blobs(), desc, opts...)
}

func (c *Client) openRange(ctx context.Context, ref string, desc ocispec.Descriptor, opts ...ustar.Option) (*ustar.Archive, error) {
	url, err := c.BlobURL(ref, desc.Digest.String())
	if err != nil {
		return nil, err
	}
	headers, err := c.AuthHeaders(ctx, ref)
	if err != nil {
		return nil, err
	}
	src, err := ustarhttp.NewSource(url,
		ustarhttp.WithClient(c.httpClient),
		ustarhttp.WithHeaders(headers),
		ustarhttp.WithSourceID(desc.Digest.String()),
	)
	if err != nil {
		_ = c.InvalidateAuthHeaders(ref) //nolint:errcheck // ref already parsed by BlobURL
		return nil, err
	}
	if src.Size() != desc.Size {
		return nil, fmt.Errorf("%w: layer %s is %d bytes, descriptor says %d", ErrSizeMismatch, desc.Digest, src.Size(), desc.Size)
	}
	c.log().Debug("opened layer over range requests", "ref", ref, "digest", desc.Digest, "size", desc.Size)
	if c.blockCache == nil {
		return ustar.New(src, opts...)
	}
	cached, err := c.blockCache.Wrap(src)
	if err != nil {
		return nil, err
	}
	return ustar.New(cached, opts...)
}

// BlobURL returns the URL for direct blob access.
func (c *Client) BlobURL(repoRef, dgst string) (string, error) {
	ref, err := parseRef(repoRef)
	if err != nil {
		return "", err
	}
	scheme := "https"
	if c.plainHTTP {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/v2/%s/blobs/%s", scheme, ref.Host(), ref.Repository, dgst), nil
}

// AuthHeaders returns HTTP headers with authentication for direct blob access.
//
// It returns raw credentials (basic auth or a static bearer token) from the
// credential store and does not perform an OAuth2 token exchange. Registries
// that require one reject the first range request, and OpenLayer falls back to
// fetching through the registry client.
func (c *Client) AuthHeaders(ctx context.Context, repoRef string) (http.Header, error) {
	ref, err := parseRef(repoRef)
	if err != nil {
		return nil, err
	}
	host := ref.Host()

	headers := make(http.Header)
	headers.Set("User-Agent", c.userAgent)
	if c.anonymous || c.credStore == nil {
		return headers, nil
	}

	if c.authHeaderCache != nil {
		if value, ok := c.authHeaderCache.get(host); ok {
			if value != "" {
				headers.Set("Authorization", value)
			}
			return headers, nil
		}
	}

	cred, err := c.credStore.Get(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("get credentials for %s: %w", host, err)
	}

	var value string
	switch {
	case cred.AccessToken != "":
		value = "Bearer " + cred.AccessToken
	case cred.Username != "":
		value = basicAuth(cred.Username, cred.Password)
	}
	if c.authHeaderCache != nil {
		c.authHeaderCache.set(host, value)
	}
	if value != "" {
		headers.Set("Authorization", value)
	}
	return headers, nil
}

// InvalidateAuthHeaders clears cached auth headers for the repository host.
func (c *Client) InvalidateAuthHeaders(repoRef string) error {
	if c.authHeaderCache == nil {
		return nil
	}
	ref, err := parseRef(repoRef)
	if err != nil {
		return err
	}
	c.authHeaderCache.invalidate(ref.Host())
	return nil
}

// parseRef parses a full reference into registry, repository, and tag/digest.
func parseRef(ref string) (registry.Reference, error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return registry.Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return r, nil
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
