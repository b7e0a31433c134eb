// Package decode reads fixed-layout little-endian records out of a byte slice.
//
// A Reader walks the slice with a cursor. It performs no bounds checking:
// callers validate record offsets against the slice length before decoding,
// and an out-of-range access panics like any slice index would.
package decode

import "encoding/binary"

// Reader is a sequential decoder over an in-memory image.
type Reader struct {
	b   []byte
	off int
}

// New returns a Reader positioned at the start of b.
func New(b []byte) *Reader {
	return &Reader{b: b}
}

// U8 decodes one byte.
func (r *Reader) U8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

// U32 decodes a little-endian uint32.
func (r *Reader) U32() uint32 {
	v := binary.LittleEndian.Uint32(r.b[r.off : r.off+4])
	r.off += 4
	return v
}

// U32s decodes n consecutive little-endian uint32 values.
func (r *Reader) U32s(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.U32()
	}
	return out
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	out := make([]byte, n)
	copy(out, r.b[r.off:r.off+n])
	r.off += n
	return out
}

// Read fills p from the cursor, so fixed-size arrays can be decoded in place.
func (r *Reader) Read(p []byte) {
	copy(p, r.b[r.off:r.off+len(p)])
	r.off += len(p)
}

// Skip steps over n reserved bytes.
func (r *Reader) Skip(n int) {
	r.off += n
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) {
	r.off = off
}

// Offset returns the cursor position.
func (r *Reader) Offset() int {
	return r.off
}
