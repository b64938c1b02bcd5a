package engine

import (
	"errors"

	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
)

// InvalidationJob flushes a context record from the engine's record cache.
// It travels the regular queue/dispatch/reclaim path like any other job.
type InvalidationJob struct {
	ctxAddr uint64
	done    chan error
}

// NewInvalidationJob creates an invalidation job for the given context record.
func NewInvalidationJob(ctx dma.Region) *InvalidationJob {
	return &InvalidationJob{ctxAddr: ctx.Addr(), done: make(chan error, 1)}
}

// Send implements Job: one command descriptor carrying the invalidation
// control word and a null data pointer, one empty result reservation.
func (j *InvalidationJob) Send(r *Ring) (int, int, error) {
	cd, e := r.AddCommandDesc(true, true, 0, 0, 0, j.ctxAddr)
	if e != nil {
		return 0, 0, e
	}
	cd.SetType(descring.TypeExtended)
	cd.SetOptions(0)
	cd.SetPtrType(descring.PtrTypeNull)
	cd.SetControl(descring.ControlInvalidateRecord, 0)

	if _, e := r.AddResultDesc(j, true, true, 0, 0); e != nil {
		r.RollbackCommand()
		return 0, 0, e
	}
	return 1, 1, nil
}

// HandleResult implements Job.
func (j *InvalidationJob) HandleResult(r *Ring) (int, bool, error) {
	rd, e := r.NextResult()
	if e != nil {
		return 0, false, nil
	}
	res := r.ResultError(rd)
	r.AckCommands()
	return 1, true, res
}

// Complete implements Job.
func (j *InvalidationJob) Complete(err error) {
	j.done <- err
}

// Await blocks until the invalidation completes.
func (j *InvalidationJob) Await() error {
	return <-j.done
}

// InvalidateRecord flushes a context record through this ring and blocks
// until the engine acknowledges it.
func (r *Ring) InvalidateRecord(ctx dma.Region) error {
	j := NewInvalidationJob(ctx)
	if e := r.Enqueue(j, true); e != nil && !errors.Is(e, ErrBacklogged) {
		return e
	}
	return j.Await()
}
