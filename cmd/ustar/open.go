package main

import (
	"context"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/meigma/ustar"
	"github.com/meigma/ustar/cache"
	"github.com/meigma/ustar/cache/disk"
	ustarhttp "github.com/meigma/ustar/http"
	"github.com/meigma/ustar/oci"
)

func noClose() error { return nil }

// openArchive opens the archive named by exactly one of the source flags.
func openArchive(ctx context.Context, cfg *config, logger *slog.Logger) (*ustar.Archive, func() error, error) {
	opts := []ustar.Option{ustar.WithLogger(logger)}
	if cfg.maxSymlinkDepth > 0 {
		opts = append(opts, ustar.WithMaxSymlinkDepth(cfg.maxSymlinkDepth))
	}
	if cfg.signedChecksums {
		opts = append(opts, ustar.WithSignedChecksums())
	}
	if cfg.index {
		opts = append(opts, ustar.WithIndex())
	}
	if cfg.indexFile != "" {
		data, err := os.ReadFile(cfg.indexFile)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, ustar.WithIndexData(data))
	}

	switch {
	case cfg.file != "":
		f, err := ustar.OpenFile(cfg.file, opts...)
		if err != nil {
			return nil, nil, err
		}
		return f.Archive, f.Close, nil

	case cfg.url != "":
		src, err := ustarhttp.NewSource(cfg.url, ustarhttp.WithClient(newHTTPClient(cfg)))
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("opened http source", "url", cfg.url, "size", src.Size(), "id", src.SourceID())
		bc, err := newBlockCache(cfg)
		if err != nil {
			return nil, nil, err
		}
		var bs ustar.ByteSource = src
		if bc != nil {
			if bs, err = bc.Wrap(src); err != nil {
				return nil, nil, err
			}
		}
		a, err := ustar.New(bs, opts...)
		return a, noClose, err

	case cfg.ociLayout != "":
		store, err := oci.OpenLayout(ctx, cfg.ociLayout)
		if err != nil {
			return nil, nil, err
		}
		layers, err := oci.Layers(ctx, store, cfg.ref)
		if err != nil {
			return nil, nil, err
		}
		desc, err := pickLayer(layers, cfg.layer)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("opening layer", "digest", desc.Digest, "mediaType", desc.MediaType, "size", desc.Size)
		a, err := oci.OpenLayer(ctx, store, desc, opts...)
		return a, noClose, err

	default:
		var client *nethttp.Client
		if cfg.httpLatency > 0 || cfg.httpBPS > 0 {
			client = newHTTPClient(cfg)
		}
		clientOpts := []oci.Option{
			oci.WithDockerConfig(),
			oci.WithPlainHTTP(cfg.plainHTTP),
			oci.WithHTTPClient(client),
			oci.WithLogger(logger),
		}
		bc, err := newBlockCache(cfg)
		if err != nil {
			return nil, nil, err
		}
		if bc != nil {
			clientOpts = append(clientOpts, oci.WithBlockCache(bc))
		}
		c := oci.New(clientOpts...)
		layers, err := c.Layers(ctx, cfg.image)
		if err != nil {
			return nil, nil, err
		}
		desc, err := pickLayer(layers, cfg.layer)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("opening layer", "digest", desc.Digest, "mediaType", desc.MediaType, "size", desc.Size)
		a, err := c.OpenLayer(ctx, cfg.image, desc, opts...)
		return a, noClose, err
	}
}

// newBlockCache returns the block cache selected by -cache-dir or -cache-mem,
// or nil when neither is set.
func newBlockCache(cfg *config) (cache.BlockCache, error) {
	maxBytes := cfg.cacheSizeMB << 20
	switch {
	case cfg.cacheDir != "":
		return disk.New(cfg.cacheDir, disk.WithMaxBytes(maxBytes))
	case cfg.cacheMem:
		return cache.NewMemory(maxBytes), nil
	default:
		return nil, nil
	}
}

// pickLayer selects layers[n]; negative n counts back from the top layer.
func pickLayer(layers []ocispec.Descriptor, n int) (ocispec.Descriptor, error) {
	i := n
	if i < 0 {
		i += len(layers)
	}
	if i < 0 || i >= len(layers) {
		return ocispec.Descriptor{}, fmt.Errorf("layer %d out of range: image has %d layers", n, len(layers))
	}
	return layers[i], nil
}
