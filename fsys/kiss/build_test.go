package kiss

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderLayout(t *testing.T) {
	img := helloImage(t)
	le := binary.LittleEndian

	assert.Equal(t, uint32(3), le.Uint32(img[0:]))
	assert.Equal(t, uint32(1), le.Uint32(img[4:]))
	assert.Equal(t, uint32(1), le.Uint32(img[8:]))

	slot := img[HeaderSize+DentrySize:]
	assert.Equal(t, "hello", strings.TrimRight(string(slot[:NameLen]), "\x00"))
	assert.Equal(t, uint32(2), le.Uint32(slot[NameLen:]))
	assert.Equal(t, uint32(0), le.Uint32(slot[NameLen+4:]))

	assert.Equal(t, uint32(5), le.Uint32(img[BlockSize:]))
	assert.Equal(t, uint32(0), le.Uint32(img[BlockSize+4:]))
	assert.Equal(t, "hi!\n", string(img[2*BlockSize:2*BlockSize+4]))
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name  string
		want  string
		build func(b *Builder)
	}{
		{"empty name", "empty name", func(b *Builder) { b.AddFile("", nil) }},
		{"long name", "longer than", func(b *Builder) { b.AddDevice(strings.Repeat("x", NameLen+1)) }},
		{"duplicate", "added twice", func(b *Builder) { b.AddDirectory(".").AddFile(".", nil) }},
		{"too large", "exceed", func(b *Builder) { b.AddFile("big", make([]byte, MaxInodeBlocks*BlockSize+1)) }},
		{"too many entries", "more than", func(b *Builder) {
			for i := 0; i <= MaxDentries; i++ {
				b.AddDevice(fmt.Sprintf("dev%d", i))
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.build(b)
			_, err := b.Build()
			require.ErrorIs(t, err, ErrBuild)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))
		})
	}
}

func TestBuilderFirstErrorWins(t *testing.T) {
	_, err := NewBuilder().AddFile("", nil).AddFile("a", nil).AddFile("a", nil).Build()
	require.ErrorIs(t, err, ErrBuild)
	assert.Contains(t, err.Error(), "empty name")
}

func TestBuilderMaxFile(t *testing.T) {
	data := pattern(MaxInodeBlocks * BlockSize)
	img, err := NewBuilder().AddFile("max", data).Build()
	require.NoError(t, err)

	f := mustNew(t, img)
	ino, err := f.Inode(0)
	require.NoError(t, err)
	assert.Len(t, ino.Blocks, MaxInodeBlocks)

	tail := make([]byte, 8)
	n, err := f.ReadData(0, uint32(len(data)-8), tail)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, data[len(data)-8:], tail)
}
