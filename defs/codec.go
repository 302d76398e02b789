package defs

// ReadField32 decodes the little-endian uint32 field at byte offset off
// within b. Every on-disk record this kernel serializes -- inode records,
// indirect/double-indirect index sectors -- stores its fields as a flat
// run of u32s, so this is the one width the codec needs.
func ReadField32(b []byte, off int) uint32 {
	_ = b[off+3] // bounds-check once up front instead of four times below
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// WriteField32 encodes v as a little-endian uint32 at byte offset off
// within b.
func WriteField32(b []byte, off int, v uint32) {
	_ = b[off+3]
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
