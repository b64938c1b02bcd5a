// Package simdev provides a software model of the offload engine.
//
// SimDev implements hwio.Device over a dma.Arena. Each ring runs a goroutine
// that fetches published command descriptors, executes the transform, writes
// result metadata and ownership words, and raises the threshold interrupt by
// invoking the registered handler synchronously. The handler therefore runs
// on the device's goroutine, and the device raises no further interrupts for
// that ring until the handler returns.
package simdev

import (
	"crypto/sha256"
	"fmt"
	stdhash "hash"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/usnistgov/eipring/core/logging"
	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/hwio"
)

var logger = logging.New("SimDev")

// Config contains SimDev configuration.
type Config struct {
	// Rings is the number of descriptor ring pairs.
	Rings int `json:"rings,omitempty"`

	// RecordCapacity is the size of the transform record cache.
	RecordCapacity int `json:"recordCapacity,omitempty"`
}

func (cfg *Config) applyDefaults() {
	if cfg.Rings <= 0 {
		cfg.Rings = 1
	}
	if cfg.RecordCapacity <= 0 {
		cfg.RecordCapacity = 64
	}
}

// SimDev is a software offload engine.
type SimDev struct {
	cfg     Config
	arena   *dma.Arena
	handler atomic.Value // hwio.InterruptHandler
	records *lru.Cache
	rings   []*simRing
	wg      sync.WaitGroup
}

var _ hwio.Device = (*SimDev)(nil)

// New creates a SimDev operating on the given arena.
// All descriptor and data addresses programmed into it must fall within the
// arena; out-of-range DMA faults the ring.
func New(arena *dma.Arena, cfg Config) (*SimDev, error) {
	cfg.applyDefaults()
	records, e := lru.New(cfg.RecordCapacity)
	if e != nil {
		return nil, e
	}

	d := &SimDev{
		cfg:     cfg,
		arena:   arena,
		records: records,
	}
	d.rings = make([]*simRing, cfg.Rings)
	for i := range d.rings {
		r := &simRing{dev: d, index: i}
		r.cond = sync.NewCond(&r.mu)
		d.rings[i] = r
		d.wg.Add(1)
		go r.worker()
	}
	logger.Info("device created", zap.Int("rings", cfg.Rings))
	return d, nil
}

// Rings returns the number of ring pairs.
func (d *SimDev) Rings() int {
	return len(d.rings)
}

// SetInterruptHandler implements hwio.Device.
// Must be called before descriptors are published.
func (d *SimDev) SetInterruptHandler(h hwio.InterruptHandler) {
	d.handler.Store(h)
}

// Close stops all ring workers.
func (d *SimDev) Close() error {
	for _, r := range d.rings {
		r.mu.Lock()
		r.closed = true
		r.cond.Broadcast()
		r.mu.Unlock()
	}
	d.wg.Wait()
	logger.Info("device closed")
	return nil
}

// ReadRegister implements hwio.Device.
func (d *SimDev) ReadRegister(off uint32) uint32 {
	r, side, reg, ok := d.decode(off)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.side(side)

	switch reg {
	case hwio.RegRingBaseLo:
		return uint32(s.base)
	case hwio.RegRingBaseHi:
		return uint32(s.base >> 32)
	case hwio.RegRingSize:
		return uint32(s.sizeBytes)
	case hwio.RegDescSize:
		return s.descSize
	case hwio.RegCfg:
		return s.cfg
	case hwio.RegDMACfg:
		return s.dmaCfg
	case hwio.RegThresh:
		return s.thresh
	case hwio.RegPrepCount:
		return uint32(s.prepBytes)
	case hwio.RegProcCount:
		if side == sideRDR {
			return uint32(r.procPkts&0xff)<<hwio.ProcPktOffset | uint32(r.procBytes)&0xffffff
		}
		return 0
	case hwio.RegPrepPtr, hwio.RegProcPtr:
		return uint32(s.fetchIdx * s.stride)
	case hwio.RegStat:
		if side == sideRDR {
			return r.stat
		}
		return 0
	}
	return 0
}

// WriteRegister implements hwio.Device.
func (d *SimDev) WriteRegister(off, v uint32) {
	r, side, reg, ok := d.decode(off)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.side(side)

	switch reg {
	case hwio.RegRingBaseLo:
		s.base = s.base&^0xffffffff | uint64(v)
	case hwio.RegRingBaseHi:
		s.base = s.base&0xffffffff | uint64(v)<<32
	case hwio.RegRingSize:
		s.sizeBytes = int(v)
		s.updateEntries()
	case hwio.RegDescSize:
		s.descSize = v
		s.stride = int(v>>hwio.DescStrideShift) & hwio.DescStrideMask
		s.updateEntries()
		if side == sideRDR {
			r.resOffset = 4 * (int(v>>hwio.DescResOffsetShift) & hwio.DescResOffsetMask)
		}
	case hwio.RegCfg:
		s.cfg = v
		if side == sideRDR {
			r.ownWord = v&hwio.CfgOwnershipWordEnable != 0
		}
	case hwio.RegDMACfg:
		s.dmaCfg = v
	case hwio.RegThresh:
		s.thresh = v
		r.cond.Broadcast()
	case hwio.RegPrepCount:
		if v&hwio.CountClear != 0 {
			s.prepBytes, s.fetchIdx = 0, 0
		} else {
			s.prepBytes += int(v & 0xffffff)
		}
		r.cond.Broadcast()
	case hwio.RegProcCount:
		if side != sideRDR {
			return
		}
		if v&hwio.CountClear != 0 {
			r.procPkts, r.procBytes = 0, 0
		} else {
			r.procPkts -= int(v>>hwio.ProcPktOffset) & hwio.ProcPktMask
			r.procBytes -= int(v & 0xffffff)
		}
		r.cond.Broadcast()
	case hwio.RegStat:
		if side == sideRDR {
			r.stat &^= v & hwio.StatAll
			r.cond.Broadcast()
		}
	}
}

func (d *SimDev) decode(off uint32) (r *simRing, side int, reg uint32, ok bool) {
	ring := int(off >> 12)
	if ring >= len(d.rings) {
		logger.Warn("register access out of range", zap.Uint32("offset", off))
		return nil, 0, 0, false
	}
	bank := off & 0xfff
	side = sideCDR
	if bank >= 0x800 {
		side = sideRDR
	}
	return d.rings[ring], side, bank & 0x7ff, true
}

// InjectResultError arranges for the ring's next completed job to carry the
// given result error code.
func (d *SimDev) InjectResultError(ring int, code uint32) {
	r := d.rings[ring]
	r.mu.Lock()
	r.injectErr = append(r.injectErr, code)
	r.mu.Unlock()
}

// InjectRingError raises the ring's fatal error interrupt.
func (d *SimDev) InjectRingError(ring int) {
	r := d.rings[ring]
	r.mu.Lock()
	r.pendingErr = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// HoldOwnership controls whether the ring withholds ownership word writes.
// While held, jobs are processed and counted but their result slots never
// read as engine-owned; releasing the hold stores the withheld words.
func (d *SimDev) HoldOwnership(ring int, hold bool) {
	r := d.rings[ring]
	r.mu.Lock()
	r.holdOwn = hold
	if !hold {
		for _, w := range r.held {
			atomic.StoreUint32(w, descring.OwnershipMagic)
		}
		r.held = nil
		r.cond.Broadcast()
	}
	r.mu.Unlock()
}

const (
	sideCDR = iota
	sideRDR
)

// ringSide is the register state of one descriptor ring within a pair.
type ringSide struct {
	base      uint64
	sizeBytes int
	descSize  uint32
	cfg       uint32
	dmaCfg    uint32
	thresh    uint32
	stride    int
	entries   int
	prepBytes int
	fetchIdx  int
}

func (s *ringSide) updateEntries() {
	if s.stride > 0 && s.sizeBytes > 0 {
		s.entries = s.sizeBytes / s.stride
	}
}

type simRing struct {
	dev   *SimDev
	index int

	mu   sync.Mutex
	cond *sync.Cond

	cdr ringSide
	rdr ringSide

	resOffset int
	ownWord   bool

	procPkts  int
	procBytes int
	stat      uint32

	holdOwn    bool
	held       []*uint32
	injectErr  []uint32
	pendingErr bool
	closed     bool
}

func (r *simRing) side(which int) *ringSide {
	if which == sideRDR {
		return &r.rdr
	}
	return &r.cdr
}

func (r *simRing) worker() {
	defer r.dev.wg.Done()
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.closed {
			return
		}
		if r.fireLocked() {
			continue
		}
		if r.processLocked() {
			continue
		}
		r.cond.Wait()
	}
}

// fireLocked raises any pending interrupt, invoking the handler with the lock
// dropped. Reports whether a handler was invoked.
func (r *simRing) fireLocked() bool {
	fire := false
	if r.pendingErr && r.stat&hwio.StatErr == 0 {
		r.stat |= hwio.StatErr
		r.pendingErr = false
		fire = true
	}
	thr := int(r.rdr.thresh & hwio.ThreshPktCountMask)
	if r.rdr.thresh&hwio.ThreshPktMode != 0 && thr > 0 && r.procPkts >= thr &&
		r.stat&hwio.StatThresh == 0 {
		r.stat |= hwio.StatThresh
		fire = true
	}
	if !fire {
		return false
	}
	h, _ := r.dev.handler.Load().(hwio.InterruptHandler)
	if h == nil {
		return false
	}
	r.mu.Unlock()
	h(r.index)
	r.mu.Lock()
	return true
}

// processLocked fetches and executes one full job, if one has been published.
func (r *simRing) processLocked() bool {
	if r.cdr.entries == 0 || r.rdr.entries == 0 {
		return false
	}

	cmds, cIdx, cAvail, ok := r.fetchCommands()
	if !ok {
		return false
	}
	results, rIdx, rAvail, ok := r.fetchResults()
	if !ok {
		return false
	}
	r.cdr.fetchIdx, r.cdr.prepBytes = cIdx, cAvail
	r.rdr.fetchIdx, r.rdr.prepBytes = rIdx, rAvail

	r.execute(cmds, results)
	r.procPkts++
	r.procBytes += len(results) * r.rdr.stride
	return true
}

func (r *simRing) fetchCommands() (cmds []descring.CommandDesc, idx, avail int, ok bool) {
	idx, avail = r.cdr.fetchIdx, r.cdr.prepBytes
	for {
		if avail < r.cdr.stride {
			return nil, 0, 0, false
		}
		slot, e := r.slotAt(&r.cdr, idx)
		if e != nil {
			r.fault(e)
			return nil, 0, 0, false
		}
		d := descring.CommandDescAt(slot)
		cmds = append(cmds, d)
		avail -= r.cdr.stride
		idx = (idx + 1) % r.cdr.entries
		if d.LastSeg() {
			return cmds, idx, avail, true
		}
	}
}

func (r *simRing) fetchResults() (results []descring.ResultDesc, idx, avail int, ok bool) {
	lay := descring.Layout{
		CDStride:  r.cdr.stride,
		RDStride:  r.rdr.stride,
		ResOffset: r.resOffset,
		OwnOffset: r.rdr.stride - 4,
	}
	idx, avail = r.rdr.fetchIdx, r.rdr.prepBytes
	for {
		if avail < r.rdr.stride {
			return nil, 0, 0, false
		}
		slot, e := r.slotAt(&r.rdr, idx)
		if e != nil {
			r.fault(e)
			return nil, 0, 0, false
		}
		d := descring.ResultDescAt(slot, lay)
		results = append(results, d)
		avail -= r.rdr.stride
		idx = (idx + 1) % r.rdr.entries
		if d.LastSeg() {
			return results, idx, avail, true
		}
	}
}

func (r *simRing) slotAt(s *ringSide, idx int) (dma.Region, error) {
	return r.dev.arena.RegionAt(s.base+uint64(idx)*uint64(s.stride), s.stride)
}

func (r *simRing) fault(e error) {
	logger.Error("descriptor fetch fault", zap.Int("ring", r.index), zap.Error(e))
	r.stat |= hwio.StatDMAErr
	r.pendingErr = true
}

func (r *simRing) execute(cmds []descring.CommandDesc, results []descring.ResultDesc) {
	first := cmds[0]
	ctrl0 := first.Control0()

	var out []byte
	var errCode uint32
	switch ctrl0 & descring.ControlInvalidateMask {
	case descring.ControlInvalidateRecord, descring.ControlInvalidateFlow:
		r.dev.records.Remove(first.ContextAddr())
	default:
		out, errCode = r.dev.transform(first, cmds)
	}
	if len(r.injectErr) > 0 {
		errCode = r.injectErr[0]
		r.injectErr = r.injectErr[1:]
	}

	if len(out) > 0 {
		for _, d := range results {
			if d.DataAddr() != 0 && int(d.ParticleSize()) >= len(out) {
				if buf, e := r.dev.arena.At(d.DataAddr(), len(out)); e == nil {
					copy(buf, out)
				} else {
					r.fault(e)
				}
				break
			}
		}
	}

	for i, d := range results {
		if i == len(results)-1 {
			d.SetResult(uint32(len(out)), errCode)
		} else {
			d.SetResult(0, 0)
		}
		if r.ownWord {
			w := d.OwnershipWord()
			if r.holdOwn {
				r.held = append(r.held, w)
			} else {
				atomic.StoreUint32(w, descring.OwnershipMagic)
			}
		}
	}
}

// transform runs the hash transform described by the job's control data over
// its input fragments. Continuation state lives in the record cache keyed by
// context record address.
func (d *SimDev) transform(first descring.CommandDesc, cmds []descring.CommandDesc) ([]byte, uint32) {
	ctrl0 := first.Control0()
	key := first.ContextAddr()

	h := d.lookupRecord(ctrl0, key)
	if h == nil {
		return nil, 0x1 // unsupported transform, fatal class
	}
	for _, c := range cmds {
		n := int(c.ParticleSize())
		if n == 0 {
			continue
		}
		buf, e := d.arena.At(c.DataAddr(), n)
		if e != nil {
			logger.Error("data fetch fault", zap.Error(e))
			return nil, 0x1
		}
		h.Write(buf)
	}
	if key != 0 {
		d.records.Add(key, h)
	}
	if ctrl0&descring.ControlNoFinishHash != 0 {
		return nil, 0
	}
	return h.Sum(nil), 0
}

func (d *SimDev) lookupRecord(ctrl0 uint32, key uint64) stdhash.Hash {
	if ctrl0&descring.ControlRestartHash == 0 && key != 0 {
		if v, ok := d.records.Get(key); ok {
			if h, ok := v.(stdhash.Hash); ok {
				return h
			}
		}
	}
	return newHasher(ctrl0)
}

func newHasher(ctrl0 uint32) stdhash.Hash {
	switch ctrl0 & descring.ControlAlgMask {
	case descring.ControlAlgSHA256:
		return sha256.New()
	case descring.ControlAlgSHA3_256:
		return sha3.New256()
	}
	return nil
}

func (d *SimDev) String() string {
	return fmt.Sprintf("SimDev(%d rings)", len(d.rings))
}
