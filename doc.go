//go:generate flatc --go --go-namespace fb -o internal schema/index.fbs

// Package ustar provides read-only access to POSIX USTAR archives.
//
// An [Archive] answers path queries against an archive held in any
// [ByteSource]: header validation ([Archive.Check]), existence and type
// queries, directory listings that follow symbolic links, and offset-based
// payload reads into caller-provided buffers.
//
// Every query walks the archive from its first header with its own cursor,
// so an Archive keeps no position between calls and is safe for concurrent
// use. [WithIndex] trades one full scan for a FlatBuffers path table that
// later queries consult instead; results are identical either way.
//
// Open an archive on disk and read a file in chunks:
//
//	a, closer, err := ustar.OpenFile("layer.tar")
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	buf := make([]byte, 4096)
//	for off := int64(0); ; {
//	    n, remaining, err := a.ReadFile("etc/hosts", off, buf)
//	    if err != nil {
//	        return err
//	    }
//	    os.Stdout.Write(buf[:n])
//	    if remaining == 0 {
//	        break
//	    }
//	    off += int64(n)
//	}
//
// Extended formats (GNU long names, pax headers, sparse files) are not
// supported, and archives are never modified.
package ustar
