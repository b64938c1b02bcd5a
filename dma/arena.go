// Package dma manages memory shared between the driver and the DMA engine.
package dma

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/usnistgov/eipring/core/logging"
)

var logger = logging.New("dma")

// ErrArenaFull indicates the arena has no room for an allocation.
var ErrArenaFull = errors.New("DMA arena exhausted")

// Arena is a contiguous DMA-addressable memory region.
// It is mapped page-aligned and never moves, so engine-visible addresses
// derived from it stay valid for the arena's lifetime.
type Arena struct {
	mu  sync.Mutex
	mem []byte
	off int
}

// NewArena maps an arena of at least size bytes, rounded up to whole pages.
func NewArena(size int) (*Arena, error) {
	pgSize := unix.Getpagesize()
	size = (size + pgSize - 1) &^ (pgSize - 1)
	mem, e := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if e != nil {
		return nil, fmt.Errorf("unix.Mmap(%d): %w", size, e)
	}
	a := &Arena{mem: mem}
	logger.Debug("arena mapped",
		zap.Int("size", size),
		zap.Uint64("base", a.Base()),
	)
	return a, nil
}

// Close unmaps the arena. Regions allocated from it become invalid.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	mem := a.mem
	a.mem = nil
	return unix.Munmap(mem)
}

// Base returns the engine-visible address of the first byte.
func (a *Arena) Base() uint64 {
	return uint64(uintptr(unsafe.Pointer(&a.mem[0])))
}

// Size returns the mapped size in bytes.
func (a *Arena) Size() int {
	return len(a.mem)
}

// Alloc reserves size bytes aligned to align (minimum 4, must be a power of two).
// The returned region is zero-filled. Allocations are permanent until Close.
func (a *Arena) Alloc(size, align int) (Region, error) {
	if align < 4 {
		align = 4
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	off := (a.off + align - 1) &^ (align - 1)
	if off+size > len(a.mem) {
		return Region{}, ErrArenaFull
	}
	a.off = off + size
	return Region{mem: a.mem[off : off+size : off+size], addr: a.Base() + uint64(off)}, nil
}

// At translates an engine-visible address back into arena memory.
func (a *Arena) At(addr uint64, n int) ([]byte, error) {
	base := a.Base()
	if addr < base || addr+uint64(n) > base+uint64(len(a.mem)) {
		return nil, fmt.Errorf("address %#x+%d outside arena", addr, n)
	}
	off := int(addr - base)
	return a.mem[off : off+n : off+n], nil
}

// RegionAt translates an engine-visible address into a Region.
func (a *Arena) RegionAt(addr uint64, n int) (Region, error) {
	mem, e := a.At(addr, n)
	if e != nil {
		return Region{}, e
	}
	return Region{mem: mem, addr: addr}, nil
}
