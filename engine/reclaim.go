package engine

import (
	"go.uber.org/zap"

	"github.com/usnistgov/eipring/hwio"
)

// serviceInterrupt is the ring's interrupt service routine. It reclaims
// completed jobs from the result ring in submission order, fires their
// completion callbacks, acknowledges hardware counters, and rearms the
// coalescing threshold. Runs on the device's interrupt context.
func (r *Ring) serviceInterrupt() {
	stat := r.readRDR(hwio.RegStat)
	lay := r.engine.layout

	var nreq int
	switch {
	case r.engine.cfg.AvoidDeviceRead && stat&hwio.StatThresh == 0:
		// e.g. an error interrupt: the remembered count is not meaningful,
		// skip descriptor handling entirely
	case r.engine.cfg.AvoidDeviceRead:
		// process what we know was queued, and thus is guaranteed to be
		// available, then wait for a new interrupt
		r.lock.Lock()
		nreq = r.threshWritten
		r.lock.Unlock()
	default:
		// read the most recent processed count at the expense of a device read
		nreq = int(r.readRDR(hwio.RegProcCount) >> hwio.ProcPktOffset)
	}

	// assume all will be handled; short-count on early exit
	handled := nreq
	totDescs := 0
	aborted := false

oneMore:
	for nreq > 0 {
		idx := r.pair.ResultReadIndex()
		job := r.rdrReq[idx]
		if job == nil {
			logger.Error("no job bound at result read cursor",
				zap.Int("ring", r.index), zap.Int("index", idx))
			handled -= nreq
			aborted = true
			break
		}

		ndesc, complete, res := job.HandleResult(r)
		if complete {
			r.rdrReq[idx] = nil
			r.engine.cnt.Completed.Inc(1)
			if res != nil {
				r.engine.cnt.JobErrors.Inc(1)
			}
			job.Complete(res)
		} else if r.pair.OwnershipEnabled() && ndesc == 0 {
			// result slot not yet written; exit and retry on the next
			// interrupt, acknowledging only what was actually handled
			handled -= nreq
			aborted = true
			break
		}

		totDescs += ndesc
		nreq--
	}

	// If ownership words are enabled and the next job has already fully
	// landed, handle it immediately rather than taking another interrupt.
	if !aborted && r.pair.OwnershipEnabled() && r.pair.ScanNextResult() {
		nreq = 1
		handled++
		goto oneMore
	}

	if handled > 0 {
		i := handled
		if r.engine.cfg.AvoidDeviceRead {
			// full field-width decrements until the remainder fits
			for i > hwio.ProcPktMask {
				r.writeRDR(hwio.RegProcCount, hwio.ProcPkt(hwio.ProcPktMask))
				i -= hwio.ProcPktMask
			}
		}
		r.writeRDR(hwio.RegProcCount,
			hwio.ProcPkt(i)|uint32(totDescs*lay.RDStride))
	}

	r.lock.Lock()

	r.requests -= handled
	r.busy = false

	// ack threshold interrupts as late as possible, but before a new
	// threshold value is written; new work must reach the hardware before
	// the ack, or a threshold satisfied by this pass is never signaled again
	r.writeRDR(hwio.RegStat, hwio.StatAll)

	if r.requests > 0 {
		r.pushThresholdLocked()
		r.busy = true
	}

	r.lock.Unlock()

	if stat&(hwio.StatErr|hwio.StatDMAErr) != 0 {
		// the result ring is unusable and needs reinitialization; recovery
		// policy belongs to the caller
		logger.Error("fatal ring error",
			zap.Int("ring", r.index), zap.Uint32("stat", stat))
		r.engine.cnt.RingFatals.Inc(1)
		r.engine.emitter.Emit(EvtRingFatal, r.index)
	}

	// freed capacity may unblock a parked job or queued work
	r.kick()
}
