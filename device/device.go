// Package device holds the character devices that directory entries of
// type device resolve to, and exposes them through fsys.FileOps.
package device

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmgilman/go/errors"

	"github.com/lvdlvd/kissfs/fsys"
)

// ErrDuplicate is returned by Register for a name already taken.
var ErrDuplicate = errors.New(errors.CodeAlreadyExists, "device already registered")

// Device is a named device that can be opened any number of times.
type Device interface {
	Name() string
	Open() (Handle, error)
}

// Handle is one open instance of a device.
type Handle interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// Registry maps names to devices.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
	log     *slog.Logger
}

var _ fsys.FileOps = (*Registry)(nil)

// NewRegistry returns an empty registry. A nil logger discards output.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{devices: make(map[string]Device), log: log}
}

// Register adds dev under its name.
func (r *Registry) Register(dev Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[dev.Name()]; ok {
		return fmt.Errorf("%q: %w", dev.Name(), ErrDuplicate)
	}
	r.devices[dev.Name()] = dev
	r.log.Debug("device registered", "device", dev.Name())
	return nil
}

// Lookup returns the device called name.
func (r *Registry) Lookup(name string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[name]
	return dev, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// descriptor is an open device handle.
type descriptor struct {
	reg    *Registry
	name   string
	h      Handle
	mu     sync.Mutex
	closed bool
}

func (*descriptor) Type() fsys.FileType { return fsys.TypeDevice }

func (r *Registry) descriptorOf(d fsys.Descriptor) (*descriptor, error) {
	dd, ok := d.(*descriptor)
	if !ok || dd.reg != r {
		return nil, fsys.ErrBadDescriptor
	}
	dd.mu.Lock()
	closed := dd.closed
	dd.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%q: %w", dd.name, fsys.ErrBadDescriptor)
	}
	return dd, nil
}

// Open opens the device called name.
func (r *Registry) Open(name string) (fsys.Descriptor, error) {
	dev, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, fsys.ErrNotFound)
	}
	h, err := dev.Open()
	if err != nil {
		return nil, fmt.Errorf("open device %q: %w", name, err)
	}
	return &descriptor{reg: r, name: name, h: h}, nil
}

// Read passes buf to the device; offset is ignored.
func (r *Registry) Read(d fsys.Descriptor, _ uint32, buf []byte) (int, error) {
	dd, err := r.descriptorOf(d)
	if err != nil {
		return 0, err
	}
	return dd.h.Read(buf)
}

// Write passes buf to the device; offset is ignored.
func (r *Registry) Write(d fsys.Descriptor, _ uint32, buf []byte) (int, error) {
	dd, err := r.descriptorOf(d)
	if err != nil {
		return 0, err
	}
	return dd.h.Write(buf)
}

// Close closes the device handle.
func (r *Registry) Close(d fsys.Descriptor) error {
	dd, err := r.descriptorOf(d)
	if err != nil {
		return err
	}
	dd.mu.Lock()
	if dd.closed {
		dd.mu.Unlock()
		return fmt.Errorf("%q: %w", dd.name, fsys.ErrBadDescriptor)
	}
	dd.closed = true
	dd.mu.Unlock()
	return dd.h.Close()
}

func (r *Registry) Fstat(d fsys.Descriptor) (fsys.Stat, error) {
	dd, err := r.descriptorOf(d)
	if err != nil {
		return fsys.Stat{}, err
	}
	return fsys.Stat{Name: dd.name, Type: fsys.TypeDevice}, nil
}

// CanSeek is false: devices are streams.
func (r *Registry) CanSeek(fsys.Descriptor) bool { return false }

// FileSize is never known for a device.
func (r *Registry) FileSize(fsys.Descriptor) (uint32, bool) { return 0, false }
