package oci

import (
	"log/slog"
	"net/http"
	"time"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/meigma/ustar/cache"
)

// Option configures a Client.
type Option func(*Client)

// WithCredentialStore authenticates layer reads with credentials from store.
func WithCredentialStore(store credentials.Store) Option {
	return func(c *Client) { c.credStore = store }
}

// WithStaticCredentials authenticates against registry with a username and
// password. Other registries are accessed anonymously.
func WithStaticCredentials(registry, username, password string) Option {
	return WithCredentialStore(StaticCredentials(registry, username, password))
}

// WithStaticToken authenticates against registry with a refresh token.
func WithStaticToken(registry, token string) Option {
	return WithCredentialStore(StaticToken(registry, token))
}

// WithDockerConfig reads credentials the way the docker CLI does. When no
// usable configuration exists the option leaves the client unchanged.
func WithDockerConfig() Option {
	return func(c *Client) {
		if store, err := DefaultCredentialStore(); err == nil {
			c.credStore = store
		}
	}
}

// WithPlainHTTP talks to registries over http:// instead of https://.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) { c.plainHTTP = enabled }
}

// WithAnonymous never sends credentials, even when a store is configured.
func WithAnonymous() Option {
	return func(c *Client) { c.anonymous = true }
}

// WithUserAgent sets the User-Agent of registry and blob requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient replaces the HTTP client used for manifests, blobs and range
// reads. Nil is ignored.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAuthHeaderCacheTTL controls how long the Authorization header for a
// registry is reused between layer opens. A ttl <= 0 disables reuse.
func WithAuthHeaderCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.authHeaderCache = newAuthHeaderCache(ttl) }
}

// WithBlockCache caches the blocks of layers read over range requests. The
// layer digest keys the cache, so a disk cache is reused across processes.
func WithBlockCache(bc cache.BlockCache) Option {
	return func(c *Client) { c.blockCache = bc }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
