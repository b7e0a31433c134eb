package vfs

import (
	"encoding/binary"
	"io"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdlvd/kissfs/device"
	"github.com/lvdlvd/kissfs/fsys"
	"github.com/lvdlvd/kissfs/fsys/kiss"
)

func newTable(t *testing.T, slots int) (*Table, *kiss.FS) {
	t.Helper()
	img, err := kiss.NewBuilder().
		AddDirectory(".").
		AddFile("frame0.txt", []byte("0123456789")).
		AddDevice("rtc").
		Build()
	require.NoError(t, err)

	devs := device.NewRegistry(nil)
	require.NoError(t, devs.Register(device.NewRTC("rtc", 1024)))

	f, err := kiss.New(img, kiss.WithDevices(devs))
	require.NoError(t, err)
	return New(slots, devs, f), f
}

func TestReadAdvances(t *testing.T) {
	tab, _ := newTable(t, 0)

	fd, err := tab.Open("frame0.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, fd)

	buf := make([]byte, 4)
	var got []byte
	for {
		n, err := tab.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "0123456789", string(got))
	require.NoError(t, tab.Close(fd))
}

func TestSeek(t *testing.T) {
	tab, _ := newTable(t, 0)
	fd, err := tab.Open("frame0.txt")
	require.NoError(t, err)

	tests := []struct {
		name   string
		offset int64
		whence int
		want   int64
		read   string
	}{
		{"start", 3, io.SeekStart, 3, "345"},
		{"current", -2, io.SeekCurrent, 4, "456"},
		{"end", -2, io.SeekEnd, 8, "89"},
		{"past end", 20, io.SeekStart, 20, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := tab.Seek(fd, tt.offset, tt.whence)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pos)

			buf := make([]byte, 3)
			n, err := tab.Read(fd, buf)
			require.NoError(t, err)
			assert.Equal(t, tt.read, string(buf[:n]))
		})
	}

	_, err = tab.Seek(fd, -100, io.SeekCurrent)
	assert.Error(t, err)
	_, err = tab.Seek(fd, 0, 42)
	assert.Error(t, err)
}

func TestDirectoryListing(t *testing.T) {
	tab, _ := newTable(t, 0)
	fd, err := tab.Open(".")
	require.NoError(t, err)

	_, err = tab.Seek(fd, 0, io.SeekStart)
	require.ErrorIs(t, err, ErrNotSeekable)

	var names []string
	buf := make([]byte, kiss.NameLen)
	for {
		n, err := tab.Read(fd, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		names = append(names, string(buf[:n]))
	}
	assert.Equal(t, []string{".", "frame0.txt", "rtc"}, names)
}

func TestDeviceResolvesFirstMount(t *testing.T) {
	tab, _ := newTable(t, 0)
	fd, err := tab.Open("rtc")
	require.NoError(t, err)

	hz := make([]byte, 4)
	binary.LittleEndian.PutUint32(hz, 512)
	n, err := tab.Write(fd, hz)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = tab.Read(fd, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err := tab.Stat(fd)
	require.NoError(t, err)
	assert.Equal(t, fsys.TypeDevice, st.Type)
	require.NoError(t, tab.Close(fd))
}

func TestWriteReadOnly(t *testing.T) {
	tab, _ := newTable(t, 0)
	fd, err := tab.Open("frame0.txt")
	require.NoError(t, err)

	_, err = tab.Write(fd, []byte("x"))
	require.ErrorIs(t, err, fsys.ErrReadOnly)
}

func TestStat(t *testing.T) {
	tab, _ := newTable(t, 0)
	fd, err := tab.Open("frame0.txt")
	require.NoError(t, err)

	st, err := tab.Stat(fd)
	require.NoError(t, err)
	assert.Equal(t, "frame0.txt", st.Name)
	assert.Equal(t, fsys.TypeRegular, st.Type)
	assert.Equal(t, uint32(10), st.Size)
}

func TestSlots(t *testing.T) {
	tab, _ := newTable(t, 2)

	a, err := tab.Open("frame0.txt")
	require.NoError(t, err)
	b, err := tab.Open(".")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, []int{a, b})

	_, err = tab.Open("frame0.txt")
	require.ErrorIs(t, err, ErrTooManyFiles)
	assert.Equal(t, platformerrors.CodeUnavailable, platformerrors.GetCode(err))

	require.NoError(t, tab.Close(a))
	c, err := tab.Open("frame0.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, c)
}

func TestBadFD(t *testing.T) {
	tab, _ := newTable(t, 0)

	for _, fd := range []int{-1, 0, DefaultSlots} {
		_, err := tab.Read(fd, nil)
		require.ErrorIs(t, err, ErrBadFD)
		require.ErrorIs(t, tab.Close(fd), ErrBadFD)
		_, err = tab.Stat(fd)
		require.ErrorIs(t, err, ErrBadFD)
	}

	fd, err := tab.Open("frame0.txt")
	require.NoError(t, err)
	require.NoError(t, tab.Close(fd))
	require.ErrorIs(t, tab.Close(fd), ErrBadFD)
}

func TestOpenNotFound(t *testing.T) {
	tab, _ := newTable(t, 0)
	_, err := tab.Open("missing")
	require.ErrorIs(t, err, fsys.ErrNotFound)

	// a failed open leaves the slot free
	fd, err := tab.Open("rtc")
	require.NoError(t, err)
	assert.Equal(t, 0, fd)
	require.NoError(t, tab.Close(fd))
}

func TestMount(t *testing.T) {
	tab := New(0)
	_, err := tab.Open(".")
	require.ErrorIs(t, err, fsys.ErrNotFound)

	img, err := kiss.NewBuilder().AddDirectory(".").Build()
	require.NoError(t, err)
	f, err := kiss.New(img)
	require.NoError(t, err)

	tab.Mount(f)
	_, err = tab.Open(".")
	require.NoError(t, err)
}
