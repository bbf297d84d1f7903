// Package pathutil provides segment arithmetic for slash-separated archive paths.
//
// Archive paths are compared byte for byte; nothing here cleans "." or ".."
// elements. Segments are the non-empty pieces between slashes, so "dir",
// "dir/" and "/dir//" all have the single segment "dir".
package pathutil

import "strings"

// Segments returns the non-empty slash-separated segments of path.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Depth returns the number of non-empty segments in path.
func Depth(path string) int {
	n := 0
	for part := range strings.SplitSeq(path, "/") {
		if part != "" {
			n++
		}
	}
	return n
}

// Base returns the last non-empty segment of path, or "" if there is none.
func Base(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// IsChild reports whether path lies exactly one level below the directory
// whose segments are parent. Comparison is segment by segment.
func IsChild(parent []string, path string) bool {
	segs := Segments(path)
	if len(segs) != len(parent)+1 {
		return false
	}
	for i, s := range parent {
		if segs[i] != s {
			return false
		}
	}
	return true
}

// IsRoot reports whether path names the archive root.
func IsRoot(path string) bool {
	return path == "." || strings.Trim(path, "/") == ""
}

// DirNames returns the spellings a directory header may use for path:
// the path itself and the path with a single trailing slash.
func DirNames(path string) (bare, slashed string) {
	bare = strings.TrimSuffix(path, "/")
	return bare, bare + "/"
}

// Normalize converts a user-provided path to fs.ValidPath form.
//
// It strips leading and trailing slashes, collapses consecutive slashes and
// maps the empty path to ".". Paths containing "." or ".." elements are
// preserved and rejected later by fs.ValidPath.
func Normalize(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return "."
	}
	return strings.Join(segs, "/")
}
