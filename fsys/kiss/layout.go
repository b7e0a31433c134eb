package kiss

import (
	"bytes"

	"github.com/lvdlvd/kissfs/fsys"
)

// Image format constants. They must match the image producer exactly.
const (
	BlockSize = 4096

	// Header block: three counts, reserved padding, then the dentry table.
	headerCounts   = 12
	headerReserved = 52
	HeaderSize     = headerCounts + headerReserved

	// Dentry slot: name, type tag, inode index, reserved padding.
	NameLen        = 32
	dentryReserved = 24
	DentrySize     = NameLen + 4 + 4 + dentryReserved

	// MaxDentries is the number of slots the header block can hold.
	MaxDentries = (BlockSize - HeaderSize) / DentrySize

	// MaxInodeBlocks is the number of block indices following the length
	// word in an inode block.
	MaxInodeBlocks = BlockSize/4 - 1

	// MaxNumFiles bounds the catalog; the name index is sized above it.
	MaxNumFiles   = 64
	IndexCapacity = 133
)

// Dentry is a directory entry as decoded from the header block.
type Dentry struct {
	Filename [NameLen]byte // NUL padded; not terminated when all 32 bytes are used
	Type     fsys.FileType
	Inode    uint32 // meaningful for regular files only
}

// Name returns the filename up to the first NUL.
func (d Dentry) Name() string {
	if i := bytes.IndexByte(d.Filename[:], 0); i >= 0 {
		return string(d.Filename[:i])
	}
	return string(d.Filename[:])
}

// Inode is a decoded inode record. Blocks holds the indices in use, which
// is enough to cover Length.
type Inode struct {
	Length uint32
	Blocks []uint32
}

// Counts are the three header counts.
type Counts struct {
	Dentries   uint32
	Inodes     uint32
	DataBlocks uint32
}

// blocksFor returns the number of blocks needed to hold n bytes.
func blocksFor(n uint32) uint32 {
	b := n / BlockSize
	if n%BlockSize != 0 {
		b++
	}
	return b
}
