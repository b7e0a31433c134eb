package cmd

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/lvdlvd/kissfs/fsys"
)

// imageBacked is implemented by filesystems that expose the raw image their
// extents point into.
type imageBacked interface {
	fsys.ExtentMapper
	BaseReader() io.ReaderAt
}

// Cat writes the content of a regular file to out. Regular files of an
// image-backed filesystem are copied straight out of the image along their
// extents; devices read as empty.
func Cat(filesystem fsys.FS, fsPath string, out io.Writer) error {
	fsPath = cleanPath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory", fsPath)
	}

	if ib, ok := filesystem.(imageBacked); ok && info.Mode().IsRegular() {
		extents, err := ib.FileExtents(fsPath)
		if err != nil {
			return err
		}
		r := fsys.NewExtentReaderAt(ib.BaseReader(), extents, info.Size())
		_, err = io.Copy(out, io.NewSectionReader(r, 0, info.Size()))
		return err
	}

	f, err := filesystem.Open(fsPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}

// Stat prints the attributes of fsPath and, for regular files, the inode
// and the physical extents backing it.
func Stat(filesystem fsys.FS, fsPath string, out io.Writer) error {
	fsPath = cleanPath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}
	mode := info.Mode()

	fmt.Fprintf(out, "  File: %s\n", info.Name())
	fmt.Fprintf(out, "  Type: %s\n", fileKind(mode))
	fmt.Fprintf(out, "  Size: %d\n", info.Size())
	fmt.Fprintf(out, "  Mode: %s\n", mode)
	if !mode.IsRegular() {
		return nil
	}

	if fi, ok := info.(fsys.FileInfo); ok {
		fmt.Fprintf(out, " Inode: %d\n", fi.Inode())
	}
	if em, ok := filesystem.(fsys.ExtentMapper); ok {
		extents, err := em.FileExtents(fsPath)
		if err != nil {
			return err
		}
		for _, e := range extents {
			fmt.Fprintf(out, "Extent: %d+%d @ %#x\n", e.Logical, e.Length, e.Physical)
		}
	}
	return nil
}

func fileKind(m fs.FileMode) string {
	switch {
	case m.IsDir():
		return fsys.TypeDirectory.String()
	case m&fs.ModeDevice != 0:
		return fsys.TypeDevice.String()
	}
	return fsys.TypeRegular.String()
}
