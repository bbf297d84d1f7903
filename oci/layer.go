package oci

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	orasoci "oras.land/oras-go/v2/content/oci"

	"github.com/meigma/ustar"
)

// Docker distribution media types, accepted alongside their OCI equivalents.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerLayer        = "application/vnd.docker.image.rootfs.diff.tar"
	MediaTypeDockerLayerGzip    = "application/vnd.docker.image.rootfs.diff.tar.gzip"
)

// maxManifestSize bounds manifests and indexes read into memory (4MiB, the
// limit most registries enforce).
const maxManifestSize = 4 << 20

// LayerCompression returns the compression of a layer media type, or
// ErrUnsupportedMediaType when the layer is not a tar stream.
func LayerCompression(mediaType string) (ustar.Compression, error) {
	switch mediaType {
	case ocispec.MediaTypeImageLayer, MediaTypeDockerLayer:
		return ustar.CompressionNone, nil
	case ocispec.MediaTypeImageLayerGzip, MediaTypeDockerLayerGzip:
		return ustar.CompressionGzip, nil
	case ocispec.MediaTypeImageLayerZstd:
		return ustar.CompressionZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}
}

// OpenLayout opens an OCI image layout directory read-only.
func OpenLayout(ctx context.Context, dir string) (*orasoci.ReadOnlyStore, error) {
	store, err := orasoci.NewFromFS(ctx, os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("open oci layout %s: %w", dir, err)
	}
	return store, nil
}

// Layers resolves reference in target and returns the layer descriptors of
// the image manifest, base layer first.
//
// An image index resolves to the manifest for the running platform, or to its
// first manifest when none matches.
func Layers(ctx context.Context, target oras.ReadOnlyTarget, reference string) ([]ocispec.Descriptor, error) {
	desc, err := target.Resolve(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", reference, mapError(err))
	}

	if isIndex(desc.MediaType) {
		desc, err = selectManifest(ctx, target, desc)
		if err != nil {
			return nil, err
		}
	}

	switch desc.MediaType {
	case ocispec.MediaTypeImageManifest, MediaTypeDockerManifest:
	default:
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrManifestInvalid, desc.MediaType)
	}

	var manifest ocispec.Manifest
	if err := fetchJSON(ctx, target, desc, &manifest); err != nil {
		return nil, err
	}
	return manifest.Layers, nil
}

// OpenLayer fetches a layer, verifies it against its descriptor, decompresses
// it according to its media type and returns it as an archive held in memory.
func OpenLayer(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor, opts ...ustar.Option) (*ustar.Archive, error) {
	compression, err := LayerCompression(desc.MediaType)
	if err != nil {
		return nil, err
	}

	rc, err := fetcher.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("fetch layer %s: %w", desc.Digest, mapError(err))
	}
	defer rc.Close()

	// The verify reader fails the read if the content does not match desc.
	vr := content.NewVerifyReader(rc, desc)
	src, err := ustar.Decompress(vr, compression)
	if err != nil {
		return nil, fmt.Errorf("read layer %s: %w", desc.Digest, err)
	}
	if err := vr.Verify(); err != nil {
		return nil, fmt.Errorf("verify layer %s: %w", desc.Digest, err)
	}
	return ustar.New(src, opts...)
}

func isIndex(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageIndex || mediaType == MediaTypeDockerManifestList
}

func selectManifest(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor) (ocispec.Descriptor, error) {
	var index ocispec.Index
	if err := fetchJSON(ctx, fetcher, desc, &index); err != nil {
		return ocispec.Descriptor{}, err
	}
	if len(index.Manifests) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: index %s lists no manifests", ErrManifestInvalid, desc.Digest)
	}
	for _, m := range index.Manifests {
		if m.Platform != nil && m.Platform.OS == runtime.GOOS && m.Platform.Architecture == runtime.GOARCH {
			return m, nil
		}
	}
	return index.Manifests[0], nil
}

func fetchJSON(ctx context.Context, fetcher content.Fetcher, desc ocispec.Descriptor, v any) error {
	if desc.Size > maxManifestSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrManifestInvalid, desc.Digest, desc.Size)
	}
	data, err := content.FetchAll(ctx, fetcher, desc)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", desc.Digest, mapError(err))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return nil
}
