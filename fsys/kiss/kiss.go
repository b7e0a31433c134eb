// Package kiss implements the kernel's boot image filesystem.
//
// The image is a flat run of 4 KiB blocks: a header block with the entry
// counts and the directory entry table, one block per inode, then the data
// blocks. New decodes the catalog once; the resulting FS never changes and
// may be shared by any number of goroutines. Every operation is a bounded
// copy out of the in-memory image.
package kiss

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/lvdlvd/kissfs/decode"
	"github.com/lvdlvd/kissfs/fsys"
	"github.com/lvdlvd/kissfs/nameindex"
)

// FS is a decoded image.
type FS struct {
	image     []byte
	dentries  []Dentry
	inodes    []Inode
	numBlocks uint32
	index     *nameindex.Table
	devices   fsys.FileOps
	log       *slog.Logger
}

// Option configures New.
type Option func(*FS)

// WithLogger sets the logger used during catalog construction.
func WithLogger(l *slog.Logger) Option {
	return func(f *FS) {
		if l != nil {
			f.log = l
		}
	}
}

// WithDevices sets the file operations device entries delegate to.
func WithDevices(ops fsys.FileOps) Option {
	return func(f *FS) { f.devices = ops }
}

// New decodes the catalog of image. The image is read in place and must not
// be modified afterwards.
func New(image []byte, opts ...Option) (*FS, error) {
	f := &FS{
		image: image,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}

	if len(image) < BlockSize {
		return nil, fmt.Errorf("image of %d bytes has no header block: %w", len(image), fsys.ErrCorruptImage)
	}

	r := decode.New(image)
	counts := Counts{
		Dentries:   r.U32(),
		Inodes:     r.U32(),
		DataBlocks: r.U32(),
	}
	if counts.Dentries > MaxDentries {
		return nil, fmt.Errorf("%d dentries exceed the %d header slots: %w", counts.Dentries, MaxDentries, fsys.ErrCorruptImage)
	}
	need := (1 + uint64(counts.Inodes) + uint64(counts.DataBlocks)) * BlockSize
	if uint64(len(image)) < need {
		return nil, fmt.Errorf("image of %d bytes is shorter than the %d its counts require: %w", len(image), need, fsys.ErrCorruptImage)
	}
	f.numBlocks = counts.DataBlocks

	f.dentries = make([]Dentry, counts.Dentries)
	for i := range f.dentries {
		r.Seek(HeaderSize + i*DentrySize)
		d := &f.dentries[i]
		r.Read(d.Filename[:])
		tag := r.U32()
		d.Inode = r.U32()
		r.Skip(dentryReserved)

		if tag > uint32(fsys.TypeRegular) {
			return nil, fmt.Errorf("dentry %d: unknown type %d: %w", i, tag, fsys.ErrCorruptImage)
		}
		d.Type = fsys.FileType(tag)
		if d.Type == fsys.TypeRegular && d.Inode >= counts.Inodes {
			return nil, fmt.Errorf("dentry %d: inode %d beyond %d inodes: %w", i, d.Inode, counts.Inodes, fsys.ErrCorruptImage)
		}
	}

	f.inodes = make([]Inode, counts.Inodes)
	for i := range f.inodes {
		r.Seek((1 + i) * BlockSize)
		ino := &f.inodes[i]
		ino.Length = r.U32()
		n := blocksFor(ino.Length)
		if n > MaxInodeBlocks {
			return nil, fmt.Errorf("inode %d: length %d needs %d blocks: %w", i, ino.Length, n, fsys.ErrCorruptImage)
		}
		ino.Blocks = r.U32s(int(n))
		for _, b := range ino.Blocks {
			if b >= counts.DataBlocks {
				return nil, fmt.Errorf("inode %d: block %d beyond %d data blocks: %w", i, b, counts.DataBlocks, fsys.ErrCorruptImage)
			}
		}
	}

	f.index = nameindex.New(IndexCapacity)
	for i, d := range f.dentries {
		name := d.Name()
		if name == "" {
			return nil, fmt.Errorf("dentry %d: empty filename: %w", i, fsys.ErrCorruptImage)
		}
		if err := f.index.Insert(name, uint32(i)); err != nil {
			return nil, fmt.Errorf("dentry %d %q: %v: %w", i, name, err, fsys.ErrCorruptImage)
		}
	}

	f.log.Debug("catalog loaded",
		"dentries", counts.Dentries,
		"inodes", counts.Inodes,
		"data_blocks", counts.DataBlocks,
		"image_bytes", len(image))

	return f, nil
}

// Counts returns the decoded header counts.
func (f *FS) Counts() Counts {
	return Counts{
		Dentries:   uint32(len(f.dentries)),
		Inodes:     uint32(len(f.inodes)),
		DataBlocks: f.numBlocks,
	}
}

// DentryByName returns a copy of the entry called name.
func (f *FS) DentryByName(name string) (Dentry, error) {
	if len(name) > NameLen {
		return Dentry{}, fmt.Errorf("%q: %w", name, fsys.ErrNotFound)
	}
	i, ok := f.index.Lookup(name)
	if !ok {
		return Dentry{}, fmt.Errorf("%q: %w", name, fsys.ErrNotFound)
	}
	return f.dentries[i], nil
}

// DentryByIndex returns a copy of the entry in slot i.
func (f *FS) DentryByIndex(i uint32) (Dentry, error) {
	if i >= uint32(len(f.dentries)) {
		return Dentry{}, fmt.Errorf("dentry %d of %d: %w", i, len(f.dentries), fsys.ErrOutOfRange)
	}
	return f.dentries[i], nil
}

// Dentries returns a copy of the entry table in slot order.
func (f *FS) Dentries() []Dentry {
	return append([]Dentry(nil), f.dentries...)
}

// Inode returns a copy of inode i.
func (f *FS) Inode(i uint32) (Inode, error) {
	if i >= uint32(len(f.inodes)) {
		return Inode{}, fmt.Errorf("inode %d of %d: %w", i, len(f.inodes), fsys.ErrOutOfRange)
	}
	ino := f.inodes[i]
	ino.Blocks = append([]uint32(nil), ino.Blocks...)
	return ino, nil
}

// Image returns the backing image.
func (f *FS) Image() []byte { return f.image }
