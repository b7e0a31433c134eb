// Package fsys defines the contracts shared by the filesystems the kernel can
// mount: the descriptor-based file operations consumed by the dispatch layer,
// and a read-only io/fs view used by tools.
package fsys

import (
	"io"
	"io/fs"
	"sort"
)

// FileType is the kind of object a directory entry names.
type FileType uint32

// The values match the on-disk type tags.
const (
	TypeDevice FileType = iota
	TypeDirectory
	TypeRegular
)

func (t FileType) String() string {
	switch t {
	case TypeDevice:
		return "device"
	case TypeDirectory:
		return "directory"
	case TypeRegular:
		return "file"
	default:
		return "unknown"
	}
}

// Descriptor is the per-open state a FileOps hands out from Open. It is owned
// by the caller that opened it and must only be passed back to the FileOps
// that produced it.
type Descriptor interface {
	Type() FileType
}

// Stat summarizes an open file.
type Stat struct {
	Name  string
	Type  FileType
	Size  uint32 // content length, regular files only
	Inode uint32 // regular files only
}

// FileOps is the operation set every mounted file type implements so the
// dispatch layer can stay agnostic of the backing store.
type FileOps interface {
	// Open resolves name and returns fresh descriptor state for it.
	Open(name string) (Descriptor, error)

	// Read copies up to len(buf) bytes into buf. For regular files offset
	// is the byte position in the content; other types ignore it. A
	// return of 0 with a nil error signals end of file or end of listing.
	Read(d Descriptor, offset uint32, buf []byte) (int, error)

	// Write stores buf at offset.
	Write(d Descriptor, offset uint32, buf []byte) (int, error)

	// Close releases the descriptor. It must not be used afterwards.
	Close(d Descriptor) error

	// Fstat describes the open file.
	Fstat(d Descriptor) (Stat, error)

	// CanSeek reports whether positions are meaningful for d.
	CanSeek(d Descriptor) bool

	// FileSize returns the content length. The second result is false for
	// descriptors that have no size.
	FileSize(d Descriptor) (uint32, bool)
}

// Range represents a byte range [Start, End) within an image.
type Range struct {
	Start int64
	End   int64
}

// Size returns the size of the range in bytes
func (r Range) Size() int64 {
	return r.End - r.Start
}

// Extent maps a run of file offsets onto image offsets.
type Extent struct {
	Logical  int64 // Offset within the file
	Physical int64 // Offset within the image
	Length   int64
}

// FS is a read-only filesystem over an image, usable with the io/fs helpers.
type FS interface {
	fs.FS
	fs.ReadDirFS
	fs.StatFS

	// Type returns the filesystem type name
	Type() string

	// Close releases any resources held by the filesystem
	Close() error
}

// FreeBlocker is implemented by filesystems that can report unreferenced
// space. Ranges are ascending and do not overlap.
type FreeBlocker interface {
	FreeBlocks() ([]Range, error)
}

// ExtentMapper is implemented by filesystems that can report where a file's
// content lives within the image.
type ExtentMapper interface {
	FileExtents(path string) ([]Extent, error)
}

// FileInfo provides extended file information
type FileInfo interface {
	fs.FileInfo

	// Inode returns the inode index (0 for entries without one)
	Inode() uint64
}

// ExtentReaderAt reads a file directly from the image through its extents.
type ExtentReaderAt struct {
	r       io.ReaderAt
	extents []Extent
	size    int64
}

// NewExtentReaderAt returns a reader over the given extents of r. Offsets not
// covered by any extent read as zeros.
func NewExtentReaderAt(r io.ReaderAt, extents []Extent, size int64) *ExtentReaderAt {
	sorted := append([]Extent(nil), extents...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Logical < sorted[j].Logical
	})
	return &ExtentReaderAt{r: r, extents: sorted, size: size}
}

// Size returns the logical size of the file
func (e *ExtentReaderAt) Size() int64 { return e.size }

// Extents returns the sorted extent list.
func (e *ExtentReaderAt) Extents() []Extent { return e.extents }

// ReadAt implements io.ReaderAt
func (e *ExtentReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= e.size {
		return 0, io.EOF
	}

	var err error
	if rem := e.size - off; int64(len(p)) > rem {
		p = p[:rem]
		err = io.EOF
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		chunk := p[n:]

		i := sort.Search(len(e.extents), func(i int) bool {
			return e.extents[i].Logical+e.extents[i].Length > pos
		})
		if i == len(e.extents) || e.extents[i].Logical > pos {
			// hole up to the next extent
			end := e.size
			if i < len(e.extents) {
				end = e.extents[i].Logical
			}
			if int64(len(chunk)) > end-pos {
				chunk = chunk[:end-pos]
			}
			clear(chunk)
			n += len(chunk)
			continue
		}

		ext := e.extents[i]
		within := pos - ext.Logical
		if int64(len(chunk)) > ext.Length-within {
			chunk = chunk[:ext.Length-within]
		}
		nr, rerr := e.r.ReadAt(chunk, ext.Physical+within)
		n += nr
		if nr < len(chunk) {
			if rerr == nil {
				rerr = io.ErrUnexpectedEOF
			}
			return n, rerr
		}
	}

	return n, err
}
