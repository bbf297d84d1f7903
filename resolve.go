package ustar

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/ustar/internal/pathutil"
)

// Exists reports whether some header's path equals path byte for byte.
// Entries of every type flag count, including flags the accessor otherwise
// ignores.
func (a *Archive) Exists(path string) bool {
	_, err := a.Lookup(path)
	return err == nil
}

// IsDir reports whether a directory header with exactly this path exists.
func (a *Archive) IsDir(path string) bool {
	return a.hasType(path, (*Entry).IsDir)
}

// IsFile reports whether a regular file header with exactly this path exists.
func (a *Archive) IsFile(path string) bool {
	return a.hasType(path, (*Entry).IsRegular)
}

// IsSymlink reports whether a symbolic link header with exactly this path exists.
func (a *Archive) IsSymlink(path string) bool {
	return a.hasType(path, (*Entry).IsSymlink)
}

func (a *Archive) hasType(path string, accept func(*Entry) bool) bool {
	for h, err := range a.named(path) {
		if err != nil {
			return false
		}
		if accept(&h) {
			return true
		}
	}
	return false
}

// Lookup returns the first header whose path equals path.
//
// It fails with ErrNotFound when no header matches, or with the header error
// that stopped the scan.
func (a *Archive) Lookup(path string) (Entry, error) {
	for h, err := range a.named(path) {
		if err != nil {
			return Entry{}, &fs.PathError{Op: "lookup", Path: path, Err: err}
		}
		return h, nil
	}
	return Entry{}, &fs.PathError{Op: "lookup", Path: path, Err: ErrNotFound}
}

// FindByBasename returns the path of the first header, in archive order,
// whose final non-empty segment equals base.
func (a *Archive) FindByBasename(base string) (string, error) {
	if base == "" {
		return "", &fs.PathError{Op: "findbybasename", Path: base, Err: ErrNotFound}
	}
	for h, err := range a.Entries() {
		if err != nil {
			return "", &fs.PathError{Op: "findbybasename", Path: base, Err: err}
		}
		if pathutil.Base(h.Name) == base {
			return h.Name, nil
		}
	}
	return "", &fs.PathError{Op: "findbybasename", Path: base, Err: ErrNotFound}
}

// resolve finds the entry an operation acts on, following symbolic links.
//
// names returns the header paths that identify the current path; the first
// header among them that either satisfies accept or is a symbolic link wins.
// A link is replaced by the first entry carrying its target's basename and
// resolution starts over. The returned error is an *fs.PathError for the
// originally requested path.
func (a *Archive) resolve(op, path string, names func(string) []string, accept func(*Entry) bool) (Entry, error) {
	visited := make(map[string]struct{})
	current := path
	for {
		h, err := a.match(names(current), accept)
		if err != nil {
			return Entry{}, &fs.PathError{Op: op, Path: path, Err: err}
		}
		if !h.IsSymlink() || accept(&h) {
			return h, nil
		}

		if _, seen := visited[h.Name]; seen || len(visited) >= a.maxLinkDepth {
			a.log().Debug("symlink resolution stopped", "path", path, "link", h.Name, "depth", len(visited))
			return Entry{}, &fs.PathError{Op: op, Path: path, Err: ErrSymlinkCycle}
		}
		visited[h.Name] = struct{}{}

		target, err := a.FindByBasename(pathutil.Base(h.Linkname))
		if err != nil {
			var pathErr *fs.PathError
			if errors.As(err, &pathErr) {
				err = pathErr.Err
			}
			return Entry{}, &fs.PathError{Op: op, Path: path, Err: fmt.Errorf("resolve link %q -> %q: %w", h.Name, h.Linkname, err)}
		}
		a.log().Debug("symlink resolved", "link", h.Name, "target", h.Linkname, "resolved", target)
		current = target
	}
}

// match returns the first header among names that satisfies accept or is a
// symbolic link. When none does it reports ErrWrongType if some header with
// one of the names exists and ErrNotFound otherwise.
func (a *Archive) match(names []string, accept func(*Entry) bool) (Entry, error) {
	exists := false
	for h, err := range a.named(names...) {
		if err != nil {
			return Entry{}, err
		}
		if accept(&h) || h.IsSymlink() {
			return h, nil
		}
		exists = true
	}
	if exists {
		return Entry{}, ErrWrongType
	}
	return Entry{}, ErrNotFound
}

func exactName(path string) []string {
	return []string{path}
}

func dirNames(path string) []string {
	bare, slashed := pathutil.DirNames(path)
	if bare == "" {
		return []string{slashed}
	}
	return []string{bare, slashed}
}
