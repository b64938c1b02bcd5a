package engine

import (
	"errors"
	"sync"

	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/hwio"
)

// Ring is the software side of one command/result descriptor ring pair.
//
// Two locks cover distinct critical sections: queueLock protects the pending
// job queue so that enqueuers never contend with an in-progress dispatch or
// reclaim, and lock protects ring bookkeeping (in-flight count, busy flag,
// threshold bookkeeping, prepared/processed register writes). They are never
// nested.
type Ring struct {
	engine *Engine
	index  int
	pair   *descring.Pair

	queueLock sync.Mutex
	queue     *jobQueue

	lock          sync.Mutex
	requests      int
	busy          bool
	threshWritten int

	// rdrReq maps a result ring slot index to the job completing there.
	// Written by the dispatcher at submission, read and cleared by the
	// reclaimer at the same index; publication rides on the prepared-count
	// register write.
	rdrReq []Job

	parked drainState
	work   chan struct{}
	quit   chan struct{}
}

func newRing(e *Engine, index int) (r *Ring, err error) {
	r = &Ring{
		engine: e,
		index:  index,
		queue:  newJobQueue(e.cfg.QueueEntries),
		rdrReq: make([]Job, e.cfg.RingEntries),
		work:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	r.pair, err = descring.NewPair(e.arena, e.cfg.RingEntries, e.layout,
		!e.cfg.DisableOwnershipWord, e.cfg.OwnershipPollCount)
	if err != nil {
		return nil, err
	}
	r.setupRegisters()
	return r, nil
}

// setupRegisters programs both register banks of the ring: base address and
// geometry, descriptor fetch configuration, DMA cache behavior, counter
// clears, and the ownership word enable.
func (r *Ring) setupRegisters() {
	lay := r.engine.layout
	entries := r.pair.CDR().Capacity()

	cdr := r.pair.CDR()
	r.writeCDR(hwio.RegRingBaseLo, uint32(cdr.BaseAddr()))
	r.writeCDR(hwio.RegRingBaseHi, uint32(cdr.BaseAddr()>>32))
	r.writeCDR(hwio.RegRingSize, uint32(entries*lay.CDStride))
	r.writeCDR(hwio.RegDescSize, hwio.DescMode64Bit|
		uint32(lay.CDStride)<<hwio.DescStrideShift|uint32(lay.CDStride/4))
	r.writeCDR(hwio.RegDMACfg, hwio.DMACfgDefault)
	r.writeCDR(hwio.RegPrepCount, hwio.CountClear)
	r.writeCDR(hwio.RegProcCount, hwio.CountClear)

	rdr := r.pair.RDR()
	r.writeRDR(hwio.RegRingBaseLo, uint32(rdr.BaseAddr()))
	r.writeRDR(hwio.RegRingBaseHi, uint32(rdr.BaseAddr()>>32))
	r.writeRDR(hwio.RegRingSize, uint32(entries*lay.RDStride))
	r.writeRDR(hwio.RegDescSize, hwio.DescMode64Bit|
		uint32(lay.ResOffset/4)<<hwio.DescResOffsetShift|
		uint32(lay.RDStride)<<hwio.DescStrideShift|uint32(lay.RDStride/4))
	var cfg uint32
	if r.pair.OwnershipEnabled() {
		cfg |= hwio.CfgOwnershipWordEnable
	}
	r.writeRDR(hwio.RegCfg, cfg)
	r.writeRDR(hwio.RegDMACfg, hwio.DMACfgDefault)
	r.writeRDR(hwio.RegPrepCount, hwio.CountClear)
	r.writeRDR(hwio.RegProcCount, hwio.CountClear)
	r.writeRDR(hwio.RegStat, hwio.StatAll)
}

func (r *Ring) writeCDR(reg, v uint32) {
	r.engine.dev.WriteRegister(hwio.CDR(r.index)+reg, v)
}

func (r *Ring) writeRDR(reg, v uint32) {
	r.engine.dev.WriteRegister(hwio.RDR(r.index)+reg, v)
}

func (r *Ring) readRDR(reg uint32) uint32 {
	return r.engine.dev.ReadRegister(hwio.RDR(r.index) + reg)
}

// Index returns the ring's index.
func (r *Ring) Index() int {
	return r.index
}

// InFlight returns the number of jobs submitted to the engine and not yet
// reclaimed.
func (r *Ring) InFlight() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.requests
}

// QueueLength returns the number of jobs waiting in the software queue,
// including backlogged ones.
func (r *Ring) QueueLength() int {
	r.queueLock.Lock()
	defer r.queueLock.Unlock()
	return r.queue.length()
}

// Enqueue submits a job to this ring. With mayBacklog, a job arriving at a
// full queue is retained and ErrBacklogged returned; without it, ErrQueueFull.
func (r *Ring) Enqueue(job Job, mayBacklog bool) error {
	r.queueLock.Lock()
	err := r.queue.push(job, mayBacklog)
	r.queueLock.Unlock()
	if err == nil || errors.Is(err, ErrBacklogged) {
		r.kick()
	}
	return err
}

// kick schedules a dispatch pass on the ring's worker.
func (r *Ring) kick() {
	select {
	case r.work <- struct{}{}:
	default:
	}
}

func (r *Ring) workerLoop() {
	defer r.engine.workers.Done()
	for {
		select {
		case <-r.quit:
			return
		case <-r.work:
			r.dispatch()
		}
	}
}

// AddCommandDesc reserves and fills the next command descriptor.
// Intended for Job.Send implementations.
func (r *Ring) AddCommandDesc(first, last bool, data uint64, dataLen, fullLen uint32, ctxRecord uint64) (descring.CommandDesc, error) {
	return r.pair.AddCommandDesc(first, last, data, dataLen, fullLen, ctxRecord)
}

// AddResultDesc reserves the next result descriptor placeholder and, on the
// job's first result slot, binds the job for completion lookup.
func (r *Ring) AddResultDesc(job Job, first, last bool, data uint64, dataLen uint32) (descring.ResultDesc, error) {
	d, index, e := r.pair.AddResultDesc(first, last, data, dataLen)
	if e != nil {
		return descring.ResultDesc{}, e
	}
	if first {
		r.rdrReq[index] = job
	}
	return d, nil
}

// RollbackCommand undoes the most recent AddCommandDesc.
func (r *Ring) RollbackCommand() {
	r.pair.RollbackCommand()
}

// RollbackResult undoes the most recent AddResultDesc.
func (r *Ring) RollbackResult() {
	r.pair.RollbackResult()
}

// NextResult consumes the next result slot, honoring the ownership handshake.
// Intended for Job.HandleResult implementations.
func (r *Ring) NextResult() (descring.ResultDesc, error) {
	return r.pair.NextResultRead()
}

// AckCommands retires the command descriptors of the job at the head of the
// command ring.
func (r *Ring) AckCommands() {
	r.pair.AckCommands()
}
