package cmd

import (
	"fmt"
	"io"

	"github.com/lvdlvd/kissfs/fsys"
	"github.com/lvdlvd/kissfs/fsys/kiss"
)

// Info prints the header counts and space usage of an image.
func Info(f *kiss.FS, out io.Writer) error {
	c := f.Counts()

	used := 0
	for _, u := range f.BlockUsage() {
		if u {
			used++
		}
	}

	var files, dirs, devs int
	for _, d := range f.Dentries() {
		switch d.Type {
		case fsys.TypeRegular:
			files++
		case fsys.TypeDirectory:
			dirs++
		case fsys.TypeDevice:
			devs++
		}
	}

	fmt.Fprintf(out, "Filesystem type: kiss\n")
	fmt.Fprintf(out, "Block size:      %d\n", kiss.BlockSize)
	fmt.Fprintf(out, "Image size:      %d\n", len(f.Image()))
	fmt.Fprintf(out, "Entries:         %d of %d (%d files, %d directories, %d devices)\n",
		c.Dentries, kiss.MaxDentries, files, dirs, devs)
	fmt.Fprintf(out, "Inodes:          %d\n", c.Inodes)
	fmt.Fprintf(out, "Data blocks:     %d (%d used, %d free)\n", c.DataBlocks, used, int(c.DataBlocks)-used)
	return nil
}
