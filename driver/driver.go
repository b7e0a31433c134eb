// Package driver sequences the init and remove hooks of kernel drivers.
package driver

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jmgilman/go/errors"
)

var (
	// ErrDuplicate is returned by Register for a name already registered.
	ErrDuplicate = errors.New(errors.CodeAlreadyExists, "driver already registered")
	// ErrAlreadyInitialized is returned by a driver whose Init ran before.
	ErrAlreadyInitialized = errors.New(errors.CodeConflict, "driver already initialized")
)

// Driver is a named unit with boot and shutdown hooks.
type Driver interface {
	Name() string
	Init() error
	Remove() error
}

// Registry holds drivers in registration order.
type Registry struct {
	mu      sync.Mutex
	drivers []Driver
	started int
	log     *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger discards output.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{log: log}
}

// Register appends d.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, have := range r.drivers {
		if have.Name() == d.Name() {
			return fmt.Errorf("%q: %w", d.Name(), ErrDuplicate)
		}
	}
	r.drivers = append(r.drivers, d)
	return nil
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.drivers))
	for i, d := range r.drivers {
		names[i] = d.Name()
	}
	return names
}

// InitAll runs Init on every driver not yet started, in registration order,
// and stops at the first failure.
func (r *Registry) InitAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for ; r.started < len(r.drivers); r.started++ {
		d := r.drivers[r.started]
		if err := d.Init(); err != nil {
			r.log.Error("driver init failed", "driver", d.Name(), "error", err)
			return fmt.Errorf("init %s: %w", d.Name(), err)
		}
		r.log.Debug("driver initialized", "driver", d.Name())
	}
	return nil
}

// RemoveAll runs Remove on every started driver in reverse order. All hooks
// run; their failures are joined.
func (r *Registry) RemoveAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for ; r.started > 0; r.started-- {
		d := r.drivers[r.started-1]
		if err := d.Remove(); err != nil {
			r.log.Warn("driver remove failed", "driver", d.Name(), "error", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", d.Name(), err))
			continue
		}
		r.log.Debug("driver removed", "driver", d.Name())
	}
	return stderrors.Join(errs...)
}

// Func adapts a pair of functions to Driver. Nil hooks do nothing.
type Func struct {
	ID       string
	OnInit   func() error
	OnRemove func() error
}

func (f Func) Name() string { return f.ID }

func (f Func) Init() error {
	if f.OnInit == nil {
		return nil
	}
	return f.OnInit()
}

func (f Func) Remove() error {
	if f.OnRemove == nil {
		return nil
	}
	return f.OnRemove()
}
