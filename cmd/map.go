package cmd

import (
	"image/color"
	"io"

	"github.com/fogleman/gg"

	"github.com/lvdlvd/kissfs/fsys"
	"github.com/lvdlvd/kissfs/fsys/kiss"
)

// BlockKind classifies one block of an image.
type BlockKind int

const (
	BlockHeader BlockKind = iota
	BlockInode
	BlockData
	BlockFree
)

// Block is one cell of a block map. File is the owning entry name for
// BlockData.
type Block struct {
	Kind BlockKind
	File string
}

// BlockMap returns every block of the image in order.
func BlockMap(f *kiss.FS) []Block {
	c := f.Counts()
	blocks := make([]Block, 0, 1+c.Inodes+c.DataBlocks)
	blocks = append(blocks, Block{Kind: BlockHeader})
	for i := uint32(0); i < c.Inodes; i++ {
		blocks = append(blocks, Block{Kind: BlockInode})
	}

	data := make([]Block, c.DataBlocks)
	for i := range data {
		data[i].Kind = BlockFree
	}
	for _, d := range f.Dentries() {
		if d.Type != fsys.TypeRegular {
			continue
		}
		ino, err := f.Inode(d.Inode)
		if err != nil {
			continue
		}
		for _, b := range ino.Blocks {
			data[b] = Block{Kind: BlockData, File: d.Name()}
		}
	}
	return append(blocks, data...)
}

// Map cell geometry in pixels.
const (
	MapCell    = 8
	MapColumns = 64
)

var (
	headerColor = color.RGBA{0x33, 0x33, 0x33, 0xff}
	inodeColor  = color.RGBA{0x66, 0x00, 0x66, 0xff}
	freeColor   = color.RGBA{0xe6, 0xe6, 0xe6, 0xff}
	fileColors  = []color.RGBA{
		{0x00, 0x80, 0xcc, 0xff},
		{0x00, 0x99, 0x4d, 0xff},
		{0xcc, 0x80, 0x00, 0xff},
		{0xb3, 0x1a, 0x1a, 0xff},
	}
)

// Map renders BlockMap as a PNG grid, MapColumns cells wide. Consecutive
// files alternate through a small palette.
func Map(f *kiss.FS, out io.Writer) error {
	blocks := BlockMap(f)
	rows := (len(blocks) + MapColumns - 1) / MapColumns

	dc := gg.NewContext(MapColumns*MapCell, rows*MapCell)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	palette := make(map[string]color.RGBA)
	for i, b := range blocks {
		var c color.RGBA
		switch b.Kind {
		case BlockHeader:
			c = headerColor
		case BlockInode:
			c = inodeColor
		case BlockFree:
			c = freeColor
		case BlockData:
			var ok bool
			if c, ok = palette[b.File]; !ok {
				c = fileColors[len(palette)%len(fileColors)]
				palette[b.File] = c
			}
		}

		x := float64(i%MapColumns) * MapCell
		y := float64(i/MapColumns) * MapCell
		dc.SetColor(c)
		dc.DrawRectangle(x, y, MapCell-1, MapCell-1)
		dc.Fill()
	}

	return dc.EncodePNG(out)
}
