package kiss

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/jmgilman/go/fs/core"

	"github.com/lvdlvd/kissfs/fsys"
)

var (
	_ fsys.FS           = (*IOFS)(nil)
	_ fs.ReadFileFS     = (*IOFS)(nil)
	_ core.ReadFS       = (*IOFS)(nil)
	_ fsys.ExtentMapper = (*IOFS)(nil)
	_ fsys.FreeBlocker  = (*IOFS)(nil)
)

// IOFS presents an image through io/fs. The root "." lists every entry
// except the root entry itself. Other directory entries are empty
// directories and device entries have no content.
type IOFS struct {
	fs *FS
}

// IOFS returns the io/fs view of f.
func (f *FS) IOFS() *IOFS { return &IOFS{fs: f} }

func (v *IOFS) Type() string { return "kiss" }
func (v *IOFS) Close() error { return nil }
func (v *IOFS) BaseReader() io.ReaderAt { return bytes.NewReader(v.fs.image) }

// FileExtents implements fsys.ExtentMapper.
func (v *IOFS) FileExtents(name string) ([]fsys.Extent, error) {
	if name == "." {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: fs.ErrInvalid}
	}
	return v.fs.FileExtents(name)
}

// FreeBlocks implements fsys.FreeBlocker.
func (v *IOFS) FreeBlocks() ([]fsys.Range, error) { return v.fs.FreeBlocks() }

func (v *IOFS) lookup(op, name string) (Dentry, error) {
	if !fs.ValidPath(name) {
		return Dentry{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	d, err := v.fs.DentryByName(name)
	if err != nil {
		return Dentry{}, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return d, nil
}

func (v *IOFS) info(d Dentry) *fileInfo {
	fi := &fileInfo{name: d.Name(), typ: d.Type}
	if d.Type == fsys.TypeRegular {
		fi.inode = d.Inode
		fi.size = int64(v.fs.inodes[d.Inode].Length)
	}
	return fi
}

// Open implements fs.FS.
func (v *IOFS) Open(name string) (fs.File, error) {
	if name == "." {
		return &dir{fs: v, info: rootInfo(), root: true}, nil
	}
	d, err := v.lookup("open", name)
	if err != nil {
		return nil, err
	}
	fi := v.info(d)
	if d.Type == fsys.TypeDirectory {
		return &dir{fs: v, info: fi}, nil
	}
	return &file{fs: v.fs, info: fi}, nil
}

// Stat implements fs.StatFS.
func (v *IOFS) Stat(name string) (fs.FileInfo, error) {
	if name == "." {
		return rootInfo(), nil
	}
	d, err := v.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return v.info(d), nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (v *IOFS) ReadDir(name string) ([]fs.DirEntry, error) {
	f, err := v.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, ok := f.(*dir)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries, err := d.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// ReadFile implements fs.ReadFileFS.
func (v *IOFS) ReadFile(name string) ([]byte, error) {
	d, err := v.lookup("read", name)
	if err != nil {
		return nil, err
	}
	switch d.Type {
	case fsys.TypeDirectory:
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	case fsys.TypeDevice:
		return []byte{}, nil
	}
	data := make([]byte, v.fs.inodes[d.Inode].Length)
	n, err := v.fs.ReadData(d.Inode, 0, data)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return data[:n], nil
}

// Exists reports whether name is in the catalog.
func (v *IOFS) Exists(name string) (bool, error) {
	_, err := v.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// file is an open regular file or device entry.
type file struct {
	fs     *FS
	info   *fileInfo
	offset int64
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *file) Close() error { return nil }

func (f *file) Read(b []byte) (int, error) {
	n, err := f.ReadAt(b, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *file) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &fs.PathError{Op: "readat", Path: f.info.name, Err: fs.ErrInvalid}
	}
	if off >= f.info.size {
		return 0, io.EOF
	}
	n, err := f.fs.ReadData(f.info.inode, uint32(off), b)
	if err != nil {
		return n, &fs.PathError{Op: "read", Path: f.info.name, Err: err}
	}
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += f.info.size
	default:
		return 0, &fs.PathError{Op: "seek", Path: f.info.name, Err: fs.ErrInvalid}
	}
	if offset < 0 {
		return 0, &fs.PathError{Op: "seek", Path: f.info.name, Err: fs.ErrInvalid}
	}
	f.offset = offset
	return offset, nil
}

// dir is an open directory.
type dir struct {
	fs      *IOFS
	info    *fileInfo
	root    bool
	entries []fs.DirEntry
	loaded  bool
	offset  int
}

func (d *dir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dir) Close() error { return nil }

func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *dir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		d.loaded = true
		if d.root {
			for _, e := range d.fs.fs.dentries {
				if e.Name() == "." {
					continue
				}
				d.entries = append(d.entries, dirEntry{d.fs.info(e)})
			}
		}
	}

	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return append([]fs.DirEntry{}, rest...), nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.offset += n
	return append([]fs.DirEntry{}, rest[:n]...), nil
}

type dirEntry struct {
	info *fileInfo
}

func (e dirEntry) Name() string { return e.info.name }
func (e dirEntry) IsDir() bool { return e.info.IsDir() }
func (e dirEntry) Type() fs.FileMode { return e.info.Mode().Type() }
func (e dirEntry) Info() (fs.FileInfo, error) { return e.info, nil }

// fileInfo implements fsys.FileInfo.
type fileInfo struct {
	name  string
	typ   fsys.FileType
	size  int64
	inode uint32
}

func rootInfo() *fileInfo { return &fileInfo{name: ".", typ: fsys.TypeDirectory} }

func (i *fileInfo) Name() string { return i.name }
func (i *fileInfo) Size() int64 { return i.size }
func (i *fileInfo) ModTime() time.Time { return time.Time{} }
func (i *fileInfo) IsDir() bool { return i.typ == fsys.TypeDirectory }
func (i *fileInfo) Sys() any { return nil }
func (i *fileInfo) Inode() uint64 { return uint64(i.inode) }

func (i *fileInfo) Mode() fs.FileMode {
	switch i.typ {
	case fsys.TypeDirectory:
		return fs.ModeDir | 0555
	case fsys.TypeDevice:
		return fs.ModeDevice | fs.ModeCharDevice | 0444
	}
	return 0444
}
