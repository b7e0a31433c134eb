package kiss

import (
	"encoding/binary"
	"fmt"

	"github.com/jmgilman/go/errors"

	"github.com/lvdlvd/kissfs/fsys"
)

// ErrBuild is wrapped by every error Builder.Build reports.
var ErrBuild = errors.New(errors.CodeInvalidInput, "cannot build image")

type buildEntry struct {
	name string
	typ  fsys.FileType
	data []byte
}

// Builder lays out an image. Entries keep the order they were added in;
// each regular file gets the next inode and a run of sequential data blocks.
// The first failing Add is reported by Build.
type Builder struct {
	entries []buildEntry
	names   map[string]bool
	spare   uint32
	err     error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]bool)}
}

// AddDirectory adds a directory entry.
func (b *Builder) AddDirectory(name string) *Builder {
	return b.add(name, fsys.TypeDirectory, nil)
}

// AddFile adds a regular file holding data. data is not copied until Build.
func (b *Builder) AddFile(name string, data []byte) *Builder {
	if len(data) > MaxInodeBlocks*BlockSize {
		b.fail(fmt.Errorf("%q: %d bytes exceed %d blocks: %w", name, len(data), MaxInodeBlocks, ErrBuild))
		return b
	}
	return b.add(name, fsys.TypeRegular, data)
}

// AddDevice adds a device entry.
func (b *Builder) AddDevice(name string) *Builder {
	return b.add(name, fsys.TypeDevice, nil)
}

// Reserve appends n data blocks that no inode references.
func (b *Builder) Reserve(n uint32) *Builder {
	b.spare += n
	return b
}

func (b *Builder) add(name string, typ fsys.FileType, data []byte) *Builder {
	switch {
	case name == "":
		b.fail(fmt.Errorf("empty name: %w", ErrBuild))
	case len(name) > NameLen:
		b.fail(fmt.Errorf("%q is longer than %d bytes: %w", name, NameLen, ErrBuild))
	case b.names[name]:
		b.fail(fmt.Errorf("%q added twice: %w", name, ErrBuild))
	case len(b.entries) == MaxDentries:
		b.fail(fmt.Errorf("%q: more than %d entries: %w", name, MaxDentries, ErrBuild))
	default:
		b.names[name] = true
		b.entries = append(b.entries, buildEntry{name: name, typ: typ, data: data})
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the encoded image.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}

	var inodes, blocks uint32
	for _, e := range b.entries {
		if e.typ == fsys.TypeRegular {
			inodes++
			blocks += blocksFor(uint32(len(e.data)))
		}
	}
	blocks += b.spare

	le := binary.LittleEndian
	img := make([]byte, (1+int(inodes)+int(blocks))*BlockSize)
	le.PutUint32(img[0:], uint32(len(b.entries)))
	le.PutUint32(img[4:], inodes)
	le.PutUint32(img[8:], blocks)

	var inode, next uint32
	for i, e := range b.entries {
		slot := img[HeaderSize+i*DentrySize : HeaderSize+(i+1)*DentrySize]
		copy(slot[:NameLen], e.name)
		le.PutUint32(slot[NameLen:], uint32(e.typ))
		if e.typ != fsys.TypeRegular {
			continue
		}
		le.PutUint32(slot[NameLen+4:], inode)

		ib := img[(1+int(inode))*BlockSize:]
		le.PutUint32(ib, uint32(len(e.data)))
		for j, rest := 0, e.data; j < int(blocksFor(uint32(len(e.data)))); j++ {
			le.PutUint32(ib[4+4*j:], next)
			off := (1 + int(inodes) + int(next)) * BlockSize
			rest = rest[copy(img[off:off+BlockSize], rest):]
			next++
		}
		inode++
	}
	return img, nil
}
