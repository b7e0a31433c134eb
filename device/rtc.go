package device

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"sync"
	"time"
)

// RTC frequency bounds in Hz.
const (
	MinFrequency     = 2
	MaxFrequency     = 1024
	DefaultFrequency = MinFrequency
)

// ValidFrequency reports whether hz is a power of two within the RTC range.
func ValidFrequency(hz uint32) bool {
	return hz >= MinFrequency && hz <= MaxFrequency && hz&(hz-1) == 0
}

// RTC is a virtual periodic interrupt source. Each open handle has its own
// rate; reading blocks until the handle's next tick.
type RTC struct {
	name string
	hz   uint32
}

// NewRTC returns an RTC whose handles start ticking at hz. An invalid hz
// falls back to DefaultFrequency.
func NewRTC(name string, hz uint32) *RTC {
	if !ValidFrequency(hz) {
		hz = DefaultFrequency
	}
	return &RTC{name: name, hz: hz}
}

func (r *RTC) Name() string { return r.name }

func (r *RTC) Open() (Handle, error) {
	return &rtcHandle{
		hz:     r.hz,
		ticker: time.NewTicker(period(r.hz)),
		done:   make(chan struct{}),
	}, nil
}

func period(hz uint32) time.Duration {
	return time.Second / time.Duration(hz)
}

type rtcHandle struct {
	mu     sync.Mutex
	hz     uint32
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// Read waits for the next tick. It transfers no data.
func (h *rtcHandle) Read([]byte) (int, error) {
	select {
	case <-h.done:
		return 0, fs.ErrClosed
	default:
	}
	select {
	case <-h.ticker.C:
		return 0, nil
	case <-h.done:
		return 0, fs.ErrClosed
	}
}

// Write sets the rate from a 4-byte little-endian frequency.
func (h *rtcHandle) Write(buf []byte) (int, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("rtc: frequency must be 4 bytes, got %d: %w", len(buf), fs.ErrInvalid)
	}
	hz := binary.LittleEndian.Uint32(buf)
	if !ValidFrequency(hz) {
		return 0, fmt.Errorf("rtc: frequency %d Hz: %w", hz, fs.ErrInvalid)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, fs.ErrClosed
	}
	h.hz = hz
	h.ticker.Reset(period(hz))
	return len(buf), nil
}

func (h *rtcHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fs.ErrClosed
	}
	h.closed = true
	h.ticker.Stop()
	close(h.done)
	return nil
}

// Frequency returns the current rate in Hz.
func (h *rtcHandle) Frequency() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hz
}
