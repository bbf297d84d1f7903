package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/ustar"
)

var errUsage = errors.New("wrong number of arguments")

func runCommand(a *ustar.Archive, cmd string, args []string, w io.Writer) error {
	switch cmd {
	case "check":
		if len(args) != 0 {
			return errUsage
		}
		return check(a, w)
	case "ls":
		if len(args) > 1 {
			return errUsage
		}
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}
		return list(a, dir, w)
	case "stat":
		if len(args) != 1 {
			return errUsage
		}
		return stat(a, args[0], w)
	case "cat":
		if len(args) != 1 {
			return errUsage
		}
		r, err := a.Payload(args[0])
		if err != nil {
			return err
		}
		_, err = io.Copy(w, r)
		return err
	case "digest":
		if len(args) != 1 {
			return errUsage
		}
		r, err := a.Payload(args[0])
		if err != nil {
			return err
		}
		dgst, err := digest.Canonical.FromReader(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s  %s\n", dgst, args[0])
		return err
	case "index":
		if len(args) != 1 {
			return errUsage
		}
		data, err := a.IndexData()
		if err != nil {
			return err
		}
		return os.WriteFile(args[0], data, 0o644) //nolint:gosec // index files are not secret
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func check(a *ustar.Archive, w io.Writer) error {
	count, err := a.Check()
	if err != nil {
		var herr *ustar.HeaderError
		if errors.As(err, &herr) {
			fmt.Fprintf(w, "invalid header at offset %d\n", herr.Offset)
		}
		return err
	}
	_, err = fmt.Fprintf(w, "%d entries\n", count)
	return err
}

func list(a *ustar.Archive, dir string, w io.Writer) error {
	children, err := a.Children(dir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range children {
		name := e.Name
		if e.IsSymlink() {
			name += " -> " + e.Linkname
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", modeString(&e), e.Size, e.ModTime.UTC().Format(time.DateTime), name)
	}
	return tw.Flush()
}

func stat(a *ustar.Archive, path string, w io.Writer) error {
	e, err := a.Lookup(path)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", e.Name)
	fmt.Fprintf(tw, "type:\t%s\n", typeName(&e))
	fmt.Fprintf(tw, "mode:\t%s\n", modeString(&e))
	fmt.Fprintf(tw, "size:\t%d\n", e.Size)
	fmt.Fprintf(tw, "modified:\t%s\n", e.ModTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "offset:\t%d\n", e.Offset)
	if e.IsSymlink() {
		fmt.Fprintf(tw, "link:\t%s\n", e.Linkname)
	}
	return tw.Flush()
}

func typeName(e *ustar.Entry) string {
	switch {
	case e.IsRegular():
		return "file"
	case e.IsDir():
		return "directory"
	case e.IsSymlink():
		return "symlink"
	default:
		return fmt.Sprintf("other (%q)", e.Typeflag)
	}
}

func modeString(e *ustar.Entry) string {
	mode := fs.FileMode(e.Mode) & fs.ModePerm //nolint:gosec // masked to permission bits
	switch {
	case e.IsDir():
		mode |= fs.ModeDir
	case e.IsSymlink():
		mode |= fs.ModeSymlink
	case !e.IsRegular():
		mode |= fs.ModeIrregular
	}
	return mode.String()
}
