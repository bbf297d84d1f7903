// Package file provides the fs.File, fs.FileInfo and fs.DirEntry types the
// archive file system hands out.
package file

import (
	"io"
	"io/fs"
	"time"

	"github.com/meigma/ustar/internal/header"
)

// File implements fs.File over the payload of a regular file entry.
// It also implements io.ReaderAt and io.Seeker through the embedded reader.
type File struct {
	*io.SectionReader
	info *Info
}

// Interface compliance.
var (
	_ fs.File        = (*File)(nil)
	_ fs.ReadDirFile = (*Dir)(nil)
)

// NewFile returns a File reading payload.
func NewFile(payload *io.SectionReader, info *Info) *File {
	return &File{SectionReader: payload, info: info}
}

// Stat returns the file's info.
func (f *File) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

// Close is a no-op; the archive source is owned by the caller.
func (f *File) Close() error {
	return nil
}

// Info implements fs.FileInfo for an archive entry.
type Info struct {
	entry header.Header
	name  string
}

// NewInfo creates an Info for entry, reported under name.
func NewInfo(entry *header.Header, name string) *Info {
	return &Info{entry: *entry, name: name}
}

func (fi *Info) Name() string       { return fi.name }
func (fi *Info) Size() int64        { return fi.entry.Size }
func (fi *Info) ModTime() time.Time { return fi.entry.ModTime }
func (fi *Info) IsDir() bool        { return fi.entry.IsDir() }
func (fi *Info) Sys() any           { return &fi.entry }

// Mode returns the permission bits of the entry, with fs.ModeDir set for
// directories.
func (fi *Info) Mode() fs.FileMode {
	mode := fs.FileMode(fi.entry.Mode) & fs.ModePerm //nolint:gosec // masked to permission bits
	if fi.entry.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}

// Entry returns the underlying header.
func (fi *Info) Entry() *header.Header {
	return &fi.entry
}

// DirInfo implements fs.FileInfo for the archive root, which has no header.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info fs.FileInfo
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo) *DirEntry {
	return &DirEntry{info: info}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, nil }
func (de *DirEntry) String() string             { return fs.FormatDirEntry(de) }

// Dir implements fs.ReadDirFile over a listing computed at open time.
type Dir struct {
	info    fs.FileInfo
	entries []fs.DirEntry
	off     int
}

// NewDir returns a directory handle listing entries.
func NewDir(info fs.FileInfo, entries []fs.DirEntry) *Dir {
	return &Dir{info: info, entries: entries}
}

func (d *Dir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.Name(), Err: fs.ErrInvalid}
}

func (d *Dir) Stat() (fs.FileInfo, error) {
	return d.info, nil
}

func (d *Dir) Close() error {
	return nil
}

// ReadDir returns the next n entries, or all remaining entries when n <= 0.
func (d *Dir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.off:]
	if n <= 0 {
		d.off = len(d.entries)
		return append([]fs.DirEntry(nil), rest...), nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.off += n
	return append([]fs.DirEntry(nil), rest[:n]...), nil
}
