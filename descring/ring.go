// Package descring implements the command/result descriptor rings shared with the packet engine.
package descring

import (
	"errors"
	"fmt"
	"sync/atomic"

	binutils "github.com/jfoster/binary-utilities"
	"github.com/pkg/math"

	"github.com/usnistgov/eipring/dma"
)

// Capacity limits and defaults.
const (
	MinCapacity     = 4
	MaxCapacity     = 32768
	DefaultCapacity = 512
)

// AlignCapacity adjusts ring capacity to a power of two between minimum and maximum.
// Optional arguments: minimum capacity, default capacity, maximum capacity.
// Default capacity is used if input is zero.
func AlignCapacity(capacity int, opts ...int) int {
	min, dflt, max := MinCapacity, DefaultCapacity, MaxCapacity
	switch len(opts) {
	case 0:
	case 1:
		min, dflt = opts[0], opts[0]
	case 2:
		min, dflt = opts[0], opts[1]
	case 3:
		min, dflt, max = opts[0], opts[1], opts[2]
	default:
		panic("unexpected opts count")
	}
	if dflt < min || dflt > max ||
		binutils.NextPowerOfTwo(int64(min)) != int64(min) ||
		binutils.NextPowerOfTwo(int64(dflt)) != int64(dflt) ||
		binutils.NextPowerOfTwo(int64(max)) != int64(max) {
		panic("invalid min, dflt, max")
	}

	if capacity <= 0 {
		capacity = dflt
	} else {
		capacity = int(binutils.NextPowerOfTwo(int64(capacity)))
	}
	return math.MinInt(math.MaxInt(min, capacity), max)
}

// ErrRingFull indicates all usable descriptor slots are occupied.
// One slot is always kept free to distinguish a full ring from an empty one.
var ErrRingFull = errors.New("descriptor ring full")

// Ring is a fixed-capacity circular buffer of stride-sized descriptor slots
// backed by DMA-visible memory. Write and read cursors are slot indexes, not
// raw addresses; wraparound is modulo arithmetic on the capacity.
//
// Ring does no locking, but cursors are published atomically so that one
// producer may call write-side methods while one consumer calls read-side
// methods. A stale cursor observation is conservative: the producer may see
// the ring as fuller than it is, never emptier.
type Ring struct {
	region   dma.Region
	stride   int
	capacity uint32
	write    uint32
	read     uint32
}

// NewRing allocates a zero-initialized ring of capacity slots.
func NewRing(a *dma.Arena, capacity, stride int) (*Ring, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("ring capacity %d: need at least one occupied and one free slot", capacity)
	}
	region, e := a.Alloc(capacity*stride, 64)
	if e != nil {
		return nil, fmt.Errorf("ring allocation: %w", e)
	}
	return &Ring{region: region, stride: stride, capacity: uint32(capacity)}, nil
}

// BaseAddr returns the engine-visible address of slot 0.
func (r *Ring) BaseAddr() uint64 {
	return r.region.Addr()
}

// Capacity returns the number of slots.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// Stride returns the per-slot stride in bytes.
func (r *Ring) Stride() int {
	return r.stride
}

// CountInUse returns the number of slots between read and write cursors.
func (r *Ring) CountInUse() int {
	w, rd := atomic.LoadUint32(&r.write), atomic.LoadUint32(&r.read)
	return int((w - rd + r.capacity) % r.capacity)
}

// ReadIndex returns the slot index at the read cursor.
func (r *Ring) ReadIndex() int {
	return int(atomic.LoadUint32(&r.read))
}

// WriteIndex returns the slot index at the write cursor.
func (r *Ring) WriteIndex() int {
	return int(atomic.LoadUint32(&r.write))
}

// SlotAt returns the memory of slot i.
func (r *Ring) SlotAt(i int) dma.Region {
	return r.region.Slice(i*r.stride, r.stride)
}

// NextWriteSlot returns the slot at the write cursor and advances the cursor,
// unless the ring is full, in which case it fails with ErrRingFull and the
// cursor stays put.
func (r *Ring) NextWriteSlot() (slot dma.Region, index int, e error) {
	w := r.write
	if (w+1)%r.capacity == atomic.LoadUint32(&r.read) {
		return dma.Region{}, 0, ErrRingFull
	}
	atomic.StoreUint32(&r.write, (w+1)%r.capacity)
	return r.SlotAt(int(w)), int(w), nil
}

// NextReadSlot returns the slot at the read cursor and unconditionally
// advances it. The caller's accounting must confirm the slot is valid.
func (r *Ring) NextReadSlot() (slot dma.Region, index int) {
	rd := r.read
	atomic.StoreUint32(&r.read, (rd+1)%r.capacity)
	return r.SlotAt(int(rd)), int(rd)
}

// RollbackWrite moves the write cursor back by one slot, undoing the most
// recent NextWriteSlot. No-op when the ring is empty.
func (r *Ring) RollbackWrite() {
	w := r.write
	if w == atomic.LoadUint32(&r.read) {
		return
	}
	atomic.StoreUint32(&r.write, (w-1+r.capacity)%r.capacity)
}
