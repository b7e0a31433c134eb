// Package nameindex provides a fixed-capacity table mapping file names to
// directory entry slots.
//
// The table is filled once and then only read, so it has no deletion. Any
// number of goroutines may call Lookup once inserts have stopped.
package nameindex

import (
	"hash/fnv"

	"github.com/jmgilman/go/errors"
)

var (
	// ErrFull is returned by Insert when every slot is occupied.
	ErrFull = errors.New(errors.CodeInvalidInput, "name index is full")
	// ErrDuplicate is returned by Insert when the key is already present.
	ErrDuplicate = errors.New(errors.CodeAlreadyExists, "duplicate name")
)

type slot struct {
	key   string
	value uint32
	used  bool
}

// Table is an open-addressing hash table with linear probing.
type Table struct {
	slots []slot
	n     int
}

// New returns a table holding at most capacity keys.
func New(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	return &Table{slots: make([]slot, capacity)}
}

func (t *Table) home(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.slots)))
}

// Insert stores value under key. An existing key keeps its first value and
// ErrDuplicate is returned.
func (t *Table) Insert(key string, value uint32) error {
	i := t.home(key)
	for probe := 0; probe < len(t.slots); probe++ {
		s := &t.slots[i]
		if !s.used {
			*s = slot{key: key, value: value, used: true}
			t.n++
			return nil
		}
		if s.key == key {
			return ErrDuplicate
		}
		i = (i + 1) % len(t.slots)
	}
	return ErrFull
}

// Lookup returns the value stored under key.
func (t *Table) Lookup(key string) (uint32, bool) {
	i := t.home(key)
	for probe := 0; probe < len(t.slots); probe++ {
		s := &t.slots[i]
		if !s.used {
			return 0, false
		}
		if s.key == key {
			return s.value, true
		}
		i = (i + 1) % len(t.slots)
	}
	return 0, false
}

// Len returns the number of stored keys.
func (t *Table) Len() int { return t.n }

// Cap returns the fixed capacity.
func (t *Table) Cap() int { return len(t.slots) }
