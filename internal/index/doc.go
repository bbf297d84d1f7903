// Package index encodes and loads FlatBuffers path tables for USTAR archives.
//
// An index records every header of an archive in archive order together with
// its byte offset, so queries can skip the linear scan over the source. It is
// tied to one source by SourceID and size.
package index
