package kiss

import (
	"fmt"
	"io/fs"

	"github.com/lvdlvd/kissfs/fsys"
)

// blockOffset returns the image offset of data block b.
func (f *FS) blockOffset(b uint32) int64 {
	return (1 + int64(len(f.inodes)) + int64(b)) * BlockSize
}

// ReadBlock copies from data block block, starting blockOffset bytes into it,
// and never past the end of that block. It returns the number of bytes copied.
func (f *FS) ReadBlock(block, blockOffset uint32, buf []byte) (int, error) {
	if block >= f.numBlocks {
		return 0, fmt.Errorf("block %d of %d: %w", block, f.numBlocks, fsys.ErrOutOfRange)
	}
	if blockOffset >= BlockSize {
		return 0, fmt.Errorf("offset %d within block %d: %w", blockOffset, block, fsys.ErrOutOfRange)
	}

	start := f.blockOffset(block)
	return copy(buf, f.image[start+int64(blockOffset):start+BlockSize]), nil
}

// ReadData copies the content of inode starting at offset into buf. The read
// is clamped to the inode length; 0 bytes are returned at or past the end.
func (f *FS) ReadData(inode, offset uint32, buf []byte) (int, error) {
	if inode >= uint32(len(f.inodes)) {
		return 0, fmt.Errorf("inode %d of %d: %w", inode, len(f.inodes), fsys.ErrOutOfRange)
	}
	ino := &f.inodes[inode]
	if offset >= ino.Length {
		return 0, nil
	}

	want := len(buf)
	if rem := ino.Length - offset; uint32(want) > rem {
		want = int(rem)
	}

	n := 0
	idx := offset / BlockSize
	within := offset % BlockSize
	for n < want {
		if idx >= uint32(len(ino.Blocks)) {
			return n, fmt.Errorf("inode %d: block list ends at %d: %w", inode, idx, fsys.ErrCorruptImage)
		}
		m, err := f.ReadBlock(ino.Blocks[idx], within, buf[n:want])
		n += m
		if err != nil {
			return n, err
		}
		idx++
		within = 0
	}
	return n, nil
}

// FileExtents returns where the content of the named regular file lives in
// the image. Physically adjacent blocks are merged into one extent.
func (f *FS) FileExtents(name string) ([]fsys.Extent, error) {
	d, err := f.DentryByName(name)
	if err != nil {
		return nil, err
	}
	if d.Type != fsys.TypeRegular {
		return nil, fmt.Errorf("%q is a %s, not a file: %w", name, d.Type, fs.ErrInvalid)
	}

	ino := &f.inodes[d.Inode]
	var extents []fsys.Extent
	remaining := int64(ino.Length)
	logical := int64(0)
	for _, b := range ino.Blocks {
		length := int64(BlockSize)
		if length > remaining {
			length = remaining
		}
		phys := f.blockOffset(b)

		if last := len(extents) - 1; last >= 0 &&
			extents[last].Physical+extents[last].Length == phys {
			extents[last].Length += length
		} else {
			extents = append(extents, fsys.Extent{Logical: logical, Physical: phys, Length: length})
		}
		logical += length
		remaining -= length
	}
	return extents, nil
}

// FreeBlocks returns the byte ranges of data blocks no inode references.
func (f *FS) FreeBlocks() ([]fsys.Range, error) {
	used := f.BlockUsage()
	var ranges []fsys.Range
	for b := uint32(0); b < f.numBlocks; b++ {
		if used[b] {
			continue
		}
		start := f.blockOffset(b)
		if last := len(ranges) - 1; last >= 0 && ranges[last].End == start {
			ranges[last].End += BlockSize
			continue
		}
		ranges = append(ranges, fsys.Range{Start: start, End: start + BlockSize})
	}
	return ranges, nil
}

// BlockUsage reports, per data block, whether an inode references it.
func (f *FS) BlockUsage() []bool {
	used := make([]bool, f.numBlocks)
	for _, ino := range f.inodes {
		for _, b := range ino.Blocks {
			used[b] = true
		}
	}
	return used
}
