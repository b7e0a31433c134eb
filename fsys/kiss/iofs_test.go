package kiss

import (
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdlvd/kissfs/fsys"
)

func sampleIOFS(t *testing.T) (*IOFS, []byte) {
	t.Helper()
	big := pattern(2*BlockSize + 123)
	img, err := NewBuilder().
		AddDirectory(".").
		AddFile("hello", []byte("hi!\n\x00")).
		AddFile("frame0.txt", big).
		AddFile("empty", nil).
		AddDirectory("sub").
		AddDevice("rtc").
		Build()
	require.NoError(t, err)
	return mustNew(t, img).IOFS(), big
}

func TestIOFSConformance(t *testing.T) {
	v, _ := sampleIOFS(t)
	require.NoError(t, fstest.TestFS(v, "hello", "frame0.txt", "empty", "sub", "rtc"))
}

func TestIOFSReadDir(t *testing.T) {
	v, _ := sampleIOFS(t)

	entries, err := v.ReadDir(".")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"empty", "frame0.txt", "hello", "rtc", "sub"}, names)

	sub, err := v.ReadDir("sub")
	require.NoError(t, err)
	assert.Empty(t, sub)

	_, err = v.ReadDir("hello")
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestIOFSModes(t *testing.T) {
	v, _ := sampleIOFS(t)

	tests := []struct {
		name string
		mode fs.FileMode
		size int64
	}{
		{".", fs.ModeDir | 0555, 0},
		{"hello", 0444, 5},
		{"sub", fs.ModeDir | 0555, 0},
		{"rtc", fs.ModeDevice | fs.ModeCharDevice | 0444, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := v.Stat(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, info.Mode())
			assert.Equal(t, tt.size, info.Size())
		})
	}

	info, err := v.Stat("frame0.txt")
	require.NoError(t, err)
	fi, ok := info.(fsys.FileInfo)
	require.True(t, ok)
	assert.Equal(t, uint64(1), fi.Inode())
}

func TestIOFSReadFile(t *testing.T) {
	v, big := sampleIOFS(t)

	data, err := fs.ReadFile(v, "frame0.txt")
	require.NoError(t, err)
	assert.Equal(t, big, data)

	data, err = v.ReadFile("rtc")
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = v.ReadFile("sub")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = v.ReadFile("missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIOFSSeekReadAt(t *testing.T) {
	v, big := sampleIOFS(t)

	f, err := v.Open("frame0.txt")
	require.NoError(t, err)
	defer f.Close()

	s := f.(io.ReadSeeker)
	pos, err := s.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(big)-3), pos)

	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, big[len(big)-3:], rest)

	ra := f.(io.ReaderAt)
	buf := make([]byte, 10)
	n, err := ra.ReadAt(buf, int64(len(big)-4))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	_, err = ra.ReadAt(buf, -1)
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = s.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestIOFSExists(t *testing.T) {
	v, _ := sampleIOFS(t)

	for name, want := range map[string]bool{".": true, "hello": true, "rtc": true, "missing": false} {
		ok, err := v.Exists(name)
		require.NoError(t, err)
		assert.Equal(t, want, ok, name)
	}

	_, err := v.Exists("../x")
	assert.Error(t, err)
}

func TestIOFSExtents(t *testing.T) {
	v, big := sampleIOFS(t)

	ext, err := v.FileExtents("frame0.txt")
	require.NoError(t, err)
	r := fsys.NewExtentReaderAt(v.BaseReader(), ext, int64(len(big)))
	got := make([]byte, len(big))
	n, err := r.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)
	assert.Equal(t, big, got)

	_, err = v.FileExtents(".")
	assert.Error(t, err)
	assert.Equal(t, "kiss", v.Type())
	assert.NoError(t, v.Close())
}
