// Package vfs is the per-process descriptor table. It resolves names
// against an ordered list of mounted fsys.FileOps and keeps the file
// position for each open slot.
package vfs

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"sync"

	"github.com/jmgilman/go/errors"

	"github.com/lvdlvd/kissfs/fsys"
)

// DefaultSlots is the descriptor table size of a process.
const DefaultSlots = 8

var (
	ErrBadFD        = errors.Wrap(fs.ErrInvalid, errors.CodeInvalidInput, "bad file descriptor")
	ErrTooManyFiles = errors.New(errors.CodeUnavailable, "too many open files")
	ErrNotSeekable  = errors.Wrap(fs.ErrInvalid, errors.CodeInvalidInput, "not seekable")
)

type slot struct {
	ops fsys.FileOps
	d   fsys.Descriptor
	pos uint32
}

// Table is a descriptor table. Its methods may be called concurrently;
// a blocking device read holds only its own slot.
type Table struct {
	mu     sync.Mutex
	mounts []fsys.FileOps
	slots  []*slot
}

// New returns a table of n slots (DefaultSlots if n < 1) over mounts,
// searched in the order given.
func New(n int, mounts ...fsys.FileOps) *Table {
	if n < 1 {
		n = DefaultSlots
	}
	return &Table{
		mounts: append([]fsys.FileOps(nil), mounts...),
		slots:  make([]*slot, n),
	}
}

// Mount appends ops to the search list.
func (t *Table) Mount(ops fsys.FileOps) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mounts = append(t.mounts, ops)
}

// Open resolves name and returns the lowest free descriptor.
func (t *Table) Open(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fd := -1
	for i, s := range t.slots {
		if s == nil {
			fd = i
			break
		}
	}
	if fd < 0 {
		return -1, fmt.Errorf("open %q: %w", name, ErrTooManyFiles)
	}

	for _, m := range t.mounts {
		d, err := m.Open(name)
		if stderrors.Is(err, fsys.ErrNotFound) {
			continue
		}
		if err != nil {
			return -1, fmt.Errorf("open %q: %w", name, err)
		}
		t.slots[fd] = &slot{ops: m, d: d}
		return fd, nil
	}
	return -1, fmt.Errorf("open %q: %w", name, fsys.ErrNotFound)
}

func (t *Table) get(fd int) (*slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrBadFD)
	}
	return t.slots[fd], nil
}

func (t *Table) advance(s *slot, n int) {
	if n <= 0 || !s.ops.CanSeek(s.d) {
		return
	}
	t.mu.Lock()
	s.pos += uint32(n)
	t.mu.Unlock()
}

// Read reads from fd at its current position.
func (t *Table) Read(fd int, buf []byte) (int, error) {
	s, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	pos := s.pos
	t.mu.Unlock()

	n, err := s.ops.Read(s.d, pos, buf)
	t.advance(s, n)
	return n, err
}

// Write writes to fd at its current position.
func (t *Table) Write(fd int, buf []byte) (int, error) {
	s, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	pos := s.pos
	t.mu.Unlock()

	n, err := s.ops.Write(s.d, pos, buf)
	t.advance(s, n)
	return n, err
}

// Close frees fd. The slot is free even if the backing close fails.
func (t *Table) Close(fd int) error {
	t.mu.Lock()
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		t.mu.Unlock()
		return fmt.Errorf("fd %d: %w", fd, ErrBadFD)
	}
	s := t.slots[fd]
	t.slots[fd] = nil
	t.mu.Unlock()
	return s.ops.Close(s.d)
}

// Stat describes fd.
func (t *Table) Stat(fd int) (fsys.Stat, error) {
	s, err := t.get(fd)
	if err != nil {
		return fsys.Stat{}, err
	}
	return s.ops.Fstat(s.d)
}

// Seek sets the position of a seekable fd as io.Seeker does. Positions past
// the end are allowed and read as end of file.
func (t *Table) Seek(fd int, offset int64, whence int) (int64, error) {
	s, err := t.get(fd)
	if err != nil {
		return 0, err
	}
	if !s.ops.CanSeek(s.d) {
		return 0, fmt.Errorf("fd %d: %w", fd, ErrNotSeekable)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += int64(s.pos)
	case io.SeekEnd:
		size, ok := s.ops.FileSize(s.d)
		if !ok {
			return 0, fmt.Errorf("fd %d has no size: %w", fd, ErrNotSeekable)
		}
		offset += int64(size)
	default:
		return 0, fmt.Errorf("whence %d: %w", whence, fs.ErrInvalid)
	}
	if offset < 0 || offset > math.MaxUint32 {
		return 0, fmt.Errorf("offset %d: %w", offset, fs.ErrInvalid)
	}
	s.pos = uint32(offset)
	return offset, nil
}
