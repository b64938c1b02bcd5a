package engine

import (
	"github.com/pkg/math"

	"github.com/usnistgov/eipring/hwio"
)

// dispatch drains the software queue into ring descriptors. Runs only on the
// ring's worker goroutine; triggered by enqueues and by the reclaimer freeing
// capacity.
func (r *Ring) dispatch() {
	// Expecting to add more requests, so disable the threshold interrupt for
	// now, anticipating a threshold rewrite at the end. This maximizes the
	// work coalesced into one interrupt.
	r.writeRDR(hwio.RegThresh, hwio.ThreshPktMode)

	nreq, cdescs, rdescs := 0, 0, 0

	// a job that hit RingFull on the previous pass goes first, in order
	st := r.parked
	r.parked = drainState{}

	for {
		if st.idle() {
			r.queueLock.Lock()
			st.job, st.backlog = r.queue.pop()
			r.queueLock.Unlock()
			if st.idle() {
				break
			}
		}

		commands, results, e := st.job.Send(r)
		if e != nil {
			// not enough ring slots; park the job and its waiter for the
			// next trigger, keeping everything already drained
			r.parked = st
			break
		}

		if st.backlog != nil {
			if n, ok := st.backlog.(ProgressNotifier); ok {
				n.InProgress()
			}
		}
		st = drainState{}

		// a send that absorbed its input without emitting descriptors is a
		// valid outcome, not an error; keep draining
		if commands == 0 && results == 0 {
			continue
		}

		cdescs += commands
		rdescs += results
		nreq++
	}

	lay := r.engine.layout

	// let the command ring know we have pending descriptors
	r.writeCDR(hwio.RegPrepCount, uint32(cdescs*lay.CDStride))

	r.lock.Lock()

	// MUST increment the in-flight count prior to publishing the result
	// ring's prepared count, so the reclaimer cannot observe a completion
	// before the count that gates its decrement is visible.
	r.requests += nreq

	r.writeRDR(hwio.RegPrepCount, uint32(rdescs*lay.RDStride))

	if r.requests > 0 {
		// The hardware allows raising the threshold while counting; the
		// reclaimer overwrites it with a lower value if this is too high.
		r.pushThresholdLocked()
		r.busy = true
	}

	r.lock.Unlock()

	if nreq > 0 {
		r.engine.cnt.Dispatched.Inc(int64(nreq))
	}
}

// pushThresholdLocked rearms the interrupt coalescing threshold from the
// in-flight count. Called with the bookkeeping lock held and a nonzero count.
func (r *Ring) pushThresholdLocked() {
	coal := math.MinInt(r.requests, r.engine.cfg.MaxBatch)
	r.writeRDR(hwio.RegThresh, hwio.ThreshPktMode|uint32(coal))

	if r.engine.cfg.AvoidDeviceRead && !r.busy {
		// remembered in place of a processed-count read; accurate only when
		// no threshold interrupt was pending at the time of the write
		r.threshWritten = coal
	}
}
