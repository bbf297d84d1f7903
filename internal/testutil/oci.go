package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
)

// Layer is the content and media type of one image layer.
type Layer struct {
	MediaType string
	Data      []byte
}

// PushImage pushes layers, an empty config and an image manifest to target
// and tags the manifest. It returns the manifest and layer descriptors.
func PushImage(t testing.TB, target oras.Target, tag string, layers ...Layer) (ocispec.Descriptor, []ocispec.Descriptor) {
	t.Helper()
	ctx := context.Background()

	descs := make([]ocispec.Descriptor, 0, len(layers))
	for _, l := range layers {
		descs = append(descs, pushBlob(t, target, l.MediaType, l.Data))
	}
	config := pushBlob(t, target, ocispec.MediaTypeEmptyJSON, ocispec.DescriptorEmptyJSON.Data)

	manifest, err := json.Marshal(ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    config,
		Layers:    descs,
	})
	require.NoError(t, err)
	desc, err := oras.TagBytes(ctx, target, ocispec.MediaTypeImageManifest, manifest, tag)
	require.NoError(t, err)
	return desc, descs
}

// pushBlob pushes data unless target already holds it, so several images can
// share layers and the empty config.
func pushBlob(t testing.TB, target oras.Target, mediaType string, data []byte) ocispec.Descriptor {
	t.Helper()
	ctx := context.Background()
	desc := content.NewDescriptorFromBytes(mediaType, data)
	exists, err := target.Exists(ctx, desc)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, target.Push(ctx, desc, bytes.NewReader(data)))
	}
	return desc
}

// Gzip compresses data with gzip.
func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// Zstd compresses data with zstd.
func Zstd(t testing.TB, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}
