package kiss

import (
	"fmt"
	"sync"

	"github.com/lvdlvd/kissfs/driver"
)

var _ driver.Driver = (*Driver)(nil)

// Driver mounts an image at boot.
type Driver struct {
	name  string
	image []byte
	opts  []Option

	mu sync.Mutex
	fs *FS
}

// NewDriver returns a driver that decodes image when initialized.
func NewDriver(name string, image []byte, opts ...Option) *Driver {
	return &Driver{name: name, image: image, opts: opts}
}

func (d *Driver) Name() string { return d.name }

// Init decodes the catalog. It fails if called again after succeeding.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fs != nil {
		return fmt.Errorf("%s: %w", d.name, driver.ErrAlreadyInitialized)
	}
	f, err := New(d.image, d.opts...)
	if err != nil {
		return err
	}
	d.fs = f
	return nil
}

// Remove does nothing; the image outlives the driver.
func (d *Driver) Remove() error { return nil }

// FS returns the decoded image, or nil before Init.
func (d *Driver) FS() *FS {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fs
}
