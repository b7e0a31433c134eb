package cmd

import (
	"fmt"
	"io"

	"github.com/lvdlvd/kissfs/fsys"
	"github.com/lvdlvd/kissfs/vfs"
)

// Read opens name through the descriptor table and copies what successive
// reads return until one returns 0. Directory reads yield one entry name
// per line. A positive limit caps the number of reads.
func Read(t *vfs.Table, name string, out io.Writer, limit int) error {
	fd, err := t.Open(name)
	if err != nil {
		return err
	}
	defer t.Close(fd)

	st, err := t.Stat(fd)
	if err != nil {
		return err
	}

	buf := make([]byte, 4096)
	for i := 0; limit <= 0 || i < limit; i++ {
		n, err := t.Read(fd, buf)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if n == 0 {
			break
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
		if st.Type == fsys.TypeDirectory {
			fmt.Fprintln(out)
		}
	}
	return nil
}
