package ustar

import (
	"io/fs"
	"iter"

	"github.com/meigma/ustar/internal/pathutil"
)

// List writes the paths of the direct children of the directory at path into
// dst, in archive order, and returns how many it wrote. At most len(dst)
// children are written.
//
// path must name a directory header, spelled with or without a trailing
// slash, or a symbolic link that resolves to one. "", "." and "/" list the
// top level of the archive. Children are compared segment by segment, so
// "dir" never lists entries of "directory".
func (a *Archive) List(path string, dst []string) (int, error) {
	children, err := a.children(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for h, err := range children {
		if err != nil {
			return n, err
		}
		if n == len(dst) {
			break
		}
		dst[n] = h.Name
		n++
	}
	return n, nil
}

// Children returns every direct child of the directory at path. It resolves
// path like List.
func (a *Archive) Children(path string) ([]Entry, error) {
	children, err := a.children(path)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for h, err := range children {
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (a *Archive) children(path string) (iter.Seq2[Entry, error], error) {
	var parent []string
	if !pathutil.IsRoot(path) {
		dir, err := a.resolve("list", path, dirNames, (*Entry).IsDir)
		if err != nil {
			return nil, err
		}
		parent = pathutil.Segments(dir.Name)
	}
	return a.childrenOf(parent, path), nil
}

// childrenOf yields the headers one segment below parent. path is only used
// to annotate errors.
func (a *Archive) childrenOf(parent []string, path string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for h, err := range a.Entries() {
			if err != nil {
				yield(Entry{}, &fs.PathError{Op: "list", Path: path, Err: err})
				return
			}
			if !pathutil.IsChild(parent, h.Name) {
				continue
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}
