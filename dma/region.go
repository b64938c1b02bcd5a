package dma

import (
	"encoding/binary"
	"unsafe"
)

// Region is a span of arena memory with its engine-visible address.
// The zero Region is invalid.
type Region struct {
	mem  []byte
	addr uint64
}

// Addr returns the engine-visible address of the first byte.
func (r Region) Addr() uint64 {
	return r.addr
}

// Len returns the region length in bytes.
func (r Region) Len() int {
	return len(r.mem)
}

// Bytes exposes the backing memory.
func (r Region) Bytes() []byte {
	return r.mem
}

// Slice returns a sub-region of n bytes starting at off.
func (r Region) Slice(off, n int) Region {
	return Region{mem: r.mem[off : off+n : off+n], addr: r.addr + uint64(off)}
}

// Zero clears the region.
func (r Region) Zero() {
	for i := range r.mem {
		r.mem[i] = 0
	}
}

// Uint32 reads a little-endian 32-bit word at byte offset off.
func (r Region) Uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(r.mem[off:])
}

// PutUint32 writes a little-endian 32-bit word at byte offset off.
func (r Region) PutUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(r.mem[off:], v)
}

// Word32 returns a pointer suitable for sync/atomic access to the 32-bit word
// at byte offset off. The offset must be 4-byte aligned; arena allocations
// guarantee at least that alignment for their base.
func (r Region) Word32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}
