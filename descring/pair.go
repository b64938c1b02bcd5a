package descring

import (
	"errors"
	"sync/atomic"

	"github.com/usnistgov/eipring/dma"
)

// OwnershipMagic is the value the engine stores into a result slot's
// ownership word once the slot is fully written. Software stores the bitwise
// complement after consuming the slot, so a stale value is never mistaken for
// a fresh write on ring wraparound.
const OwnershipMagic uint32 = 0xAAAAAAAA

// DefaultOwnershipPollCount bounds the ownership spin-wait.
// It models a wait of tens of cycles for an in-flight engine write; the wait
// never sleeps.
const DefaultOwnershipPollCount = 10

// ErrNotReady indicates the engine has not finished writing a result slot
// within the ownership poll bound. The slot must be retried on a later
// trigger; the read cursor does not advance.
var ErrNotReady = errors.New("result descriptor not written yet")

// Pair is the command/result descriptor ring pair of one hardware ring.
type Pair struct {
	layout    Layout
	cdr       *Ring
	rdr       *Ring
	ownWord   bool
	pollCount int
}

// NewPair allocates both rings with the given number of entries each.
// pollCount bounds the ownership spin-wait; zero selects the default.
func NewPair(a *dma.Arena, entries int, lay Layout, ownWord bool, pollCount int) (*Pair, error) {
	if pollCount <= 0 {
		pollCount = DefaultOwnershipPollCount
	}
	cdr, e := NewRing(a, entries, lay.CDStride)
	if e != nil {
		return nil, e
	}
	rdr, e := NewRing(a, entries, lay.RDStride)
	if e != nil {
		return nil, e
	}
	return &Pair{layout: lay, cdr: cdr, rdr: rdr, ownWord: ownWord, pollCount: pollCount}, nil
}

// Layout returns the ring layout.
func (p *Pair) Layout() Layout {
	return p.layout
}

// CDR returns the command ring.
func (p *Pair) CDR() *Ring {
	return p.cdr
}

// RDR returns the result ring.
func (p *Pair) RDR() *Ring {
	return p.rdr
}

// OwnershipEnabled reports whether result slots carry ownership words.
func (p *Pair) OwnershipEnabled() bool {
	return p.ownWord
}

// AddCommandDesc reserves the next command slot and fills it.
// On the first fragment of a job with a context record, the inline control
// data is populated: packet length, 64-bit context addressing with inline
// token control, the context pointer as a small transform record, and no-op
// tokens for the caller to overwrite.
func (p *Pair) AddCommandDesc(first, last bool, data uint64, dataLen, fullLen uint32, ctxRecord uint64) (CommandDesc, error) {
	slot, _, e := p.cdr.NextWriteSlot()
	if e != nil {
		return CommandDesc{}, e
	}
	d := CommandDesc{slot}
	d.init(first, last, data, dataLen, fullLen, ctxRecord)
	return d, nil
}

// AddResultDesc reserves the next result slot as a placeholder for the engine
// to fill, returning the slot's index for completion bookkeeping.
func (p *Pair) AddResultDesc(first, last bool, data uint64, dataLen uint32) (ResultDesc, int, error) {
	slot, index, e := p.rdr.NextWriteSlot()
	if e != nil {
		return ResultDesc{}, 0, e
	}
	d := ResultDesc{slot, p.layout}
	d.init(first, last, data, dataLen)
	return d, index, nil
}

// ResultReadIndex returns the result ring slot index at the read cursor.
func (p *Pair) ResultReadIndex() int {
	return p.rdr.ReadIndex()
}

// NextResultRead consumes the result slot at the read cursor.
//
// With ownership words enabled, the slot's ownership word is polled for up to
// the configured bound; if the magic value is not observed the call fails
// with ErrNotReady and the read cursor stays put. On success the word is
// complemented before the slot is handed to the caller.
func (p *Pair) NextResultRead() (ResultDesc, error) {
	d := ResultDesc{p.rdr.SlotAt(p.rdr.ReadIndex()), p.layout}
	if p.ownWord && !awaitOwnership(d.OwnershipWord(), p.pollCount) {
		return ResultDesc{}, ErrNotReady
	}
	p.rdr.NextReadSlot()
	return d, nil
}

// ScanNextResult reports whether the next full job's final segment has
// already landed in the result ring, by walking ownership words forward from
// the read cursor without moving it. Only meaningful with ownership words
// enabled.
func (p *Pair) ScanNextResult() bool {
	i := p.rdr.ReadIndex()
	for n := 0; n < p.rdr.Capacity(); n++ {
		d := ResultDesc{p.rdr.SlotAt(i), p.layout}
		if atomic.LoadUint32(d.OwnershipWord()) != OwnershipMagic {
			return false
		}
		if d.LastSeg() {
			return true
		}
		i = (i + 1) % p.rdr.Capacity()
	}
	return false
}

// AckCommands advances the command ring read cursor past all descriptors of
// the job at its head, up to and including the last-segment descriptor.
func (p *Pair) AckCommands() {
	for {
		slot, _ := p.cdr.NextReadSlot()
		if (CommandDesc{slot}).LastSeg() {
			return
		}
	}
}

// RollbackCommand undoes the most recent AddCommandDesc.
func (p *Pair) RollbackCommand() {
	p.cdr.RollbackWrite()
}

// RollbackResult undoes the most recent AddResultDesc.
func (p *Pair) RollbackResult() {
	p.rdr.RollbackWrite()
}

func awaitOwnership(own *uint32, pollCount int) bool {
	for cnt := pollCount; cnt > 0; cnt-- {
		if atomic.LoadUint32(own) == OwnershipMagic {
			atomic.StoreUint32(own, ^OwnershipMagic)
			return true
		}
	}
	return false
}

// CommandDescAt interprets a raw slot as a command descriptor.
// Intended for the engine side of the ring (device models).
func CommandDescAt(slot dma.Region) CommandDesc {
	return CommandDesc{slot}
}

// ResultDescAt interprets a raw slot as a result descriptor.
// Intended for the engine side of the ring (device models).
func ResultDescAt(slot dma.Region, lay Layout) ResultDesc {
	return ResultDesc{slot, lay}
}
