package kiss

import (
	"fmt"

	"github.com/lvdlvd/kissfs/fsys"
)

var _ fsys.FileOps = (*FS)(nil)

// handle is the part of every descriptor that ties it to its FS.
type handle struct {
	fs     *FS
	name   string
	closed bool
}

func (h *handle) check(f *FS) error {
	if h.fs != f || h.closed {
		return fmt.Errorf("%q: %w", h.name, fsys.ErrBadDescriptor)
	}
	return nil
}

// RegularFile is the descriptor of an open regular file.
type RegularFile struct {
	handle
	inode uint32
}

// Type implements fsys.Descriptor.
func (*RegularFile) Type() fsys.FileType { return fsys.TypeRegular }

// Directory is the descriptor of an open directory. Each Read returns the
// next entry of the table until the cursor reaches the end.
type Directory struct {
	handle
	entries []Dentry
	cursor  int
}

// Type implements fsys.Descriptor.
func (*Directory) Type() fsys.FileType { return fsys.TypeDirectory }

// Device is the descriptor of an open device entry; its operations go to
// the device FileOps given to New.
type Device struct {
	handle
	inner fsys.Descriptor
}

// Type implements fsys.Descriptor.
func (*Device) Type() fsys.FileType { return fsys.TypeDevice }

// Open looks name up and returns descriptor state for its entry.
func (f *FS) Open(name string) (fsys.Descriptor, error) {
	d, err := f.DentryByName(name)
	if err != nil {
		return nil, err
	}

	h := handle{fs: f, name: name}
	switch d.Type {
	case fsys.TypeDirectory:
		return &Directory{handle: h, entries: f.dentries}, nil
	case fsys.TypeRegular:
		return &RegularFile{handle: h, inode: d.Inode}, nil
	default:
		if f.devices == nil {
			return nil, fmt.Errorf("device %q has no driver: %w", name, fsys.ErrNotFound)
		}
		inner, err := f.devices.Open(name)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}
		return &Device{handle: h, inner: inner}, nil
	}
}

// Read copies file content, the next directory entry name, or device data
// into buf according to the descriptor type.
func (f *FS) Read(d fsys.Descriptor, offset uint32, buf []byte) (int, error) {
	switch d := d.(type) {
	case *RegularFile:
		if err := d.check(f); err != nil {
			return 0, err
		}
		return f.ReadData(d.inode, offset, buf)

	case *Directory:
		if err := d.check(f); err != nil {
			return 0, err
		}
		if d.cursor >= len(d.entries) {
			return 0, nil
		}
		name := d.entries[d.cursor].Name()
		d.cursor++
		return copy(buf, name), nil

	case *Device:
		if err := d.check(f); err != nil {
			return 0, err
		}
		return f.devices.Read(d.inner, offset, buf)
	}
	return 0, fsys.ErrBadDescriptor
}

// Write always fails: the image is immutable.
func (f *FS) Write(d fsys.Descriptor, offset uint32, buf []byte) (int, error) {
	return 0, fsys.ErrReadOnly
}

// Close releases d. Device descriptors also close their delegated handle.
func (f *FS) Close(d fsys.Descriptor) error {
	h, err := f.handleOf(d)
	if err != nil {
		return err
	}
	h.closed = true
	if dev, ok := d.(*Device); ok {
		return f.devices.Close(dev.inner)
	}
	return nil
}

// Fstat describes d.
func (f *FS) Fstat(d fsys.Descriptor) (fsys.Stat, error) {
	h, err := f.handleOf(d)
	if err != nil {
		return fsys.Stat{}, err
	}
	st := fsys.Stat{Name: h.name, Type: d.Type()}
	if rf, ok := d.(*RegularFile); ok {
		st.Inode = rf.inode
		st.Size = f.inodes[rf.inode].Length
	}
	return st, nil
}

// CanSeek reports true for regular files only.
func (f *FS) CanSeek(d fsys.Descriptor) bool {
	rf, ok := d.(*RegularFile)
	return ok && rf.check(f) == nil
}

// FileSize returns the content length of a regular file descriptor.
func (f *FS) FileSize(d fsys.Descriptor) (uint32, bool) {
	rf, ok := d.(*RegularFile)
	if !ok || rf.check(f) != nil {
		return 0, false
	}
	return f.inodes[rf.inode].Length, true
}

func (f *FS) handleOf(d fsys.Descriptor) (*handle, error) {
	var h *handle
	switch d := d.(type) {
	case *RegularFile:
		h = &d.handle
	case *Directory:
		h = &d.handle
	case *Device:
		h = &d.handle
	default:
		return nil, fsys.ErrBadDescriptor
	}
	if err := h.check(f); err != nil {
		return nil, err
	}
	return h, nil
}
