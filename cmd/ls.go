// Package cmd implements the kissfs commands.
package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/lvdlvd/kissfs/fsys"
)

// LsOptions controls ls behavior
type LsOptions struct {
	Long bool // inode, mode and size columns (-l)
	All  bool // include names starting with a dot (-a)
}

// Ls prints the entry at fsPath, or the entries below it when it names a
// directory. An empty path or "/" is the image root.
func Ls(filesystem fsys.FS, fsPath string, out io.Writer, opts LsOptions) error {
	fsPath = cleanPath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		printEntry(out, info, opts.Long)
		return nil
	}

	entries, err := fs.ReadDir(filesystem, fsPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !opts.All && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !opts.Long {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			fmt.Fprintln(out, name)
			continue
		}
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("%s: %w", path.Join(fsPath, e.Name()), err)
		}
		printEntry(out, info, true)
	}
	return nil
}

func cleanPath(p string) string {
	if p = strings.TrimLeft(p, "/"); p == "" {
		return "."
	}
	return path.Clean(p)
}

// printEntry writes one ls line. Only regular files carry an inode.
func printEntry(out io.Writer, info fs.FileInfo, long bool) {
	if !long {
		fmt.Fprintln(out, info.Name())
		return
	}
	inode := "-"
	if fi, ok := info.(fsys.FileInfo); ok && info.Mode().IsRegular() {
		inode = fmt.Sprint(fi.Inode())
	}
	fmt.Fprintf(out, "%8s %s %10d %s\n", inode, info.Mode(), info.Size(), info.Name())
}
