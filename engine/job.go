package engine

// Job is one unit of offload work flowing through a ring.
type Job interface {
	// Send emits the job's command descriptors and result reservations onto
	// the ring, returning counts of each. On descring.ErrRingFull (or any
	// resource error) Send must roll back its partial descriptors and return
	// the error; the dispatcher parks the job and calls Send again after
	// completions free capacity.
	//
	// Returning zero counts with a nil error is valid: the job absorbed its
	// input internally and nothing reaches the engine. Such a job must
	// deliver its own outcome, as HandleResult and Complete are never called
	// for it.
	Send(r *Ring) (cdescs, rdescs int, err error)

	// HandleResult consumes the job's result descriptors from the ring via
	// r.NextResult, translates the result error code, and acknowledges the
	// job's command descriptors. It returns the number of result slots
	// consumed and whether the job is now complete; res is the job-level
	// outcome passed to Complete. Consuming zero slots without completing
	// reports the slot as not yet written.
	HandleResult(r *Ring) (rdescs int, complete bool, res error)

	// Complete delivers the job's final outcome. It runs synchronously on
	// the completion path and must not block.
	Complete(err error)
}

// ProgressNotifier is implemented by jobs that want to learn when they move
// from the backlog into the ring.
type ProgressNotifier interface {
	InProgress()
}

// drainState carries a job that hit RingFull mid-dispatch, plus the backlog
// waiter to notify once the job finally enters the ring.
type drainState struct {
	job     Job
	backlog Job
}

func (st drainState) idle() bool {
	return st.job == nil
}
