// Package oci opens the tar layers of OCI images as ustar archives.
//
// Layers and OpenLayer work against any oras target: an OCI image layout on
// disk (see OpenLayout), an in-memory store, or a remote repository. Client
// adds registry authentication and reads uncompressed remote layers in place
// with HTTP range requests:
//
//	c := oci.New(oci.WithDockerConfig())
//	layers, err := c.Layers(ctx, "registry.example.com/app:v1")
//	if err != nil {
//		return err
//	}
//	archive, err := c.OpenLayer(ctx, "registry.example.com/app:v1", layers[0], ustar.WithIndex())
//	if err != nil {
//		return err
//	}
//	ok := archive.IsFile("etc/os-release")
package oci
