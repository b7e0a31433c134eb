package device

import (
	"encoding/binary"
	"io/fs"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdlvd/kissfs/fsys"
)

func freq(hz uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, hz)
	return b
}

func TestValidFrequency(t *testing.T) {
	tests := []struct {
		hz   uint32
		want bool
	}{
		{0, false},
		{1, false},
		{2, true},
		{3, false},
		{32, true},
		{1000, false},
		{1024, true},
		{2048, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidFrequency(tt.hz), "hz=%d", tt.hz)
	}
}

func TestNewRTCFallback(t *testing.T) {
	assert.Equal(t, uint32(DefaultFrequency), NewRTC("rtc", 7).hz)
	assert.Equal(t, uint32(64), NewRTC("rtc", 64).hz)
}

func TestRTCHandle(t *testing.T) {
	h, err := NewRTC("rtc", 0).Open()
	require.NoError(t, err)
	rh := h.(*rtcHandle)
	assert.Equal(t, uint32(2), rh.Frequency())

	n, err := h.Write(freq(1024))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint32(1024), rh.Frequency())

	start := time.Now()
	for i := 0; i < 3; i++ {
		n, err := h.Read(make([]byte, 4))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = h.Write(freq(1000))
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = h.Write([]byte{1, 2})
	require.ErrorIs(t, err, fs.ErrInvalid)
	assert.Equal(t, uint32(1024), rh.Frequency())

	require.NoError(t, h.Close())
	require.ErrorIs(t, h.Close(), fs.ErrClosed)
	_, err = h.Read(nil)
	require.ErrorIs(t, err, fs.ErrClosed)
	_, err = h.Write(freq(2))
	require.ErrorIs(t, err, fs.ErrClosed)
}

func TestRTCCloseUnblocksRead(t *testing.T) {
	h, err := NewRTC("rtc", 2).Open()
	require.NoError(t, err)

	done := make(chan error)
	go func() {
		_, err := h.Read(nil)
		done <- err
	}()
	require.NoError(t, h.Close())

	select {
	case err := <-done:
		// the tick may win the race against close
		if err != nil {
			require.ErrorIs(t, err, fs.ErrClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewRTC("rtc", 1024)))

	err := r.Register(NewRTC("rtc", 2))
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, platformerrors.CodeAlreadyExists, platformerrors.GetCode(err))

	require.NoError(t, r.Register(NewRTC("clock", 2)))
	assert.Equal(t, []string{"clock", "rtc"}, r.Names())

	_, ok := r.Lookup("rtc")
	assert.True(t, ok)
	_, ok = r.Lookup("tty")
	assert.False(t, ok)
}

func TestRegistryFileOps(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(NewRTC("rtc", 1024)))

	_, err := r.Open("tty")
	require.ErrorIs(t, err, fsys.ErrNotFound)

	d, err := r.Open("rtc")
	require.NoError(t, err)
	assert.Equal(t, fsys.TypeDevice, d.Type())
	assert.False(t, r.CanSeek(d))
	_, ok := r.FileSize(d)
	assert.False(t, ok)

	st, err := r.Fstat(d)
	require.NoError(t, err)
	assert.Equal(t, fsys.Stat{Name: "rtc", Type: fsys.TypeDevice}, st)

	n, err := r.Write(d, 0, freq(512))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = r.Read(d, 0, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, r.Close(d))
	require.ErrorIs(t, r.Close(d), fsys.ErrBadDescriptor)
	_, err = r.Read(d, 0, nil)
	require.ErrorIs(t, err, fsys.ErrBadDescriptor)
	_, err = r.Fstat(d)
	require.ErrorIs(t, err, fsys.ErrBadDescriptor)
}

func TestRegistryForeignDescriptor(t *testing.T) {
	a, b := NewRegistry(nil), NewRegistry(nil)
	require.NoError(t, a.Register(NewRTC("rtc", 2)))

	d, err := a.Open("rtc")
	require.NoError(t, err)
	defer a.Close(d)

	_, err = b.Write(d, 0, freq(4))
	require.ErrorIs(t, err, fsys.ErrBadDescriptor)
}
