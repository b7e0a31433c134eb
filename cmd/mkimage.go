package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lvdlvd/kissfs/fsys/kiss"
)

// MkImageOptions lists what goes into a new image.
type MkImageOptions struct {
	Files   []string // host paths; each entry is named by its base name
	Devices []string // device entry names
}

// MkImage writes an image holding a root directory, the given files in
// order, then the device entries.
func MkImage(out io.Writer, opts MkImageOptions) error {
	b := kiss.NewBuilder().AddDirectory(".")
	for _, p := range opts.Files {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("mkimage: %w", err)
		}
		b.AddFile(filepath.Base(p), data)
	}
	for _, name := range opts.Devices {
		b.AddDevice(name)
	}

	img, err := b.Build()
	if err != nil {
		return fmt.Errorf("mkimage: %w", err)
	}
	_, err = out.Write(img)
	return err
}
