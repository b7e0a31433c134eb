package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/lvdlvd/kissfs/fsys"
	"github.com/lvdlvd/kissfs/fsys/kiss"
	"github.com/lvdlvd/kissfs/nbd"
)

// ImageExport is the export name of the whole image.
const ImageExport = "image"

// Exports returns the whole image followed by one export per non-empty
// regular file, streamed from the image through its extents.
func Exports(f *kiss.FS) ([]nbd.Export, error) {
	img := f.Image()
	base := bytes.NewReader(img)
	exports := []nbd.Export{{Name: ImageExport, Reader: base, Size: int64(len(img))}}

	v := f.IOFS()
	entries, err := v.ReadDir(".")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == ImageExport {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if info.Size() == 0 {
			continue
		}
		extents, err := v.FileExtents(e.Name())
		if err != nil {
			return nil, err
		}
		exports = append(exports, nbd.Export{
			Name:   e.Name(),
			Reader: fsys.NewExtentReaderAt(base, extents, info.Size()),
			Size:   info.Size(),
		})
	}
	return exports, nil
}

// Serve exports the image over NBD on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, f *kiss.FS, log *slog.Logger) error {
	exports, err := Exports(f)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	srv, err := nbd.New(log, exports...)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return srv.Serve(ctx, ln)
}
