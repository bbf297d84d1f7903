package ustar

import (
	"io"
	"io/fs"
	"slices"
	"strings"

	"github.com/meigma/ustar/internal/file"
	"github.com/meigma/ustar/internal/pathutil"
)

// FS presents an Archive as a read-only file system.
//
// Paths follow fs.ValidPath. A directory is found through its header,
// spelled with or without a trailing slash; the root "." always exists.
// Symbolic links are followed the same way ReadFile follows them, and entries
// with other type flags are not visible.
type FS struct {
	a *Archive
}

// Interface compliance.
var (
	_ fs.FS         = (*FS)(nil)
	_ fs.StatFS     = (*FS)(nil)
	_ fs.ReadDirFS  = (*FS)(nil)
	_ fs.ReadFileFS = (*FS)(nil)
)

// FS returns a file system view of the archive.
func (a *Archive) FS() *FS {
	return &FS{a: a}
}

// Open implements fs.FS.
func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	info, err := f.stat("open", name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		entries, err := f.readDir("open", name)
		if err != nil {
			return nil, err
		}
		return file.NewDir(info, entries), nil
	}
	payload, err := f.payload("open", name, info)
	if err != nil {
		return nil, err
	}
	return file.NewFile(payload, info.(*file.Info)), nil //nolint:errcheck // regular files always carry *file.Info
}

// Stat implements fs.StatFS.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return f.stat("stat", name)
}

// ReadFile implements fs.ReadFileFS.
func (f *FS) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	info, err := f.stat("readfile", name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: ErrWrongType}
	}
	payload, err := f.payload("readfile", name, info)
	if err != nil {
		return nil, err
	}
	data := make([]byte, payload.Size())
	if _, err := io.ReadFull(payload, data); err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	info, err := f.stat("readdir", name)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrWrongType}
	}
	return f.readDir("readdir", name)
}

// stat resolves name to the info of a regular file or directory, following
// symbolic links.
func (f *FS) stat(op, name string) (fs.FileInfo, error) {
	if name == "." {
		return file.NewDirInfo("."), nil
	}
	h, err := f.a.resolve(op, name, dirNames, isFileOrDir)
	if err != nil {
		return nil, err
	}
	return file.NewInfo(&h, pathutil.Base(name)), nil
}

func (f *FS) payload(op, name string, info fs.FileInfo) (*io.SectionReader, error) {
	h := info.(*file.Info).Entry() //nolint:errcheck // regular files always carry *file.Info
	if h.DataOffset()+h.Size > f.a.src.Size() {
		return nil, &fs.PathError{Op: op, Path: name, Err: ErrTruncated}
	}
	return io.NewSectionReader(f.a.src, h.DataOffset(), h.Size), nil
}

// readDir lists the directory name, which must already be resolved to a
// directory. The first header seen for each child name wins, and children
// that are dangling links or have other type flags are left out.
func (f *FS) readDir(op, name string) ([]fs.DirEntry, error) {
	var parent []string
	if name != "." {
		dir, err := f.a.resolve(op, name, dirNames, (*Entry).IsDir)
		if err != nil {
			return nil, err
		}
		parent = pathutil.Segments(dir.Name)
	}

	seen := make(map[string]struct{})
	entries := make([]fs.DirEntry, 0)
	for h, err := range f.a.childrenOf(parent, name) {
		if err != nil {
			return nil, err
		}
		if !isFileOrDir(&h) && !h.IsSymlink() {
			continue
		}
		base := pathutil.Base(h.Name)
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}

		if h.IsSymlink() {
			target, err := f.a.resolve("stat", h.Name, dirNames, isFileOrDir)
			if err != nil {
				f.a.log().Debug("skipping unresolvable link", "path", h.Name, "error", err)
				continue
			}
			h = target
		}
		entries = append(entries, file.NewDirEntry(file.NewInfo(&h, base)))
	}
	slices.SortFunc(entries, func(x, y fs.DirEntry) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return entries, nil
}

func isFileOrDir(h *Entry) bool {
	return h.IsRegular() || h.IsDir()
}
