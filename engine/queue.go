package engine

import (
	"github.com/eapache/queue"
)

type jobEntry struct {
	job        Job
	backlogged bool
}

// jobQueue is a bounded FIFO of pending jobs with an overflow backlog.
// Backlogged entries sit past the nominal capacity, always as a suffix, and
// are promoted one at a time as dequeues free slots. Locking is the caller's
// responsibility.
type jobQueue struct {
	list     *queue.Queue
	filled   int
	capacity int
}

func newJobQueue(capacity int) *jobQueue {
	return &jobQueue{list: queue.New(), capacity: capacity}
}

func (q *jobQueue) length() int {
	return q.list.Length()
}

// push appends a job. At capacity, the job is accepted onto the backlog only
// when mayBacklog is set, reported via ErrBacklogged.
func (q *jobQueue) push(job Job, mayBacklog bool) error {
	if q.filled < q.capacity {
		q.list.Add(&jobEntry{job: job})
		q.filled++
		return nil
	}
	if !mayBacklog {
		return ErrQueueFull
	}
	q.list.Add(&jobEntry{job: job, backlogged: true})
	return ErrBacklogged
}

// pop removes the front job. The second return is the backlog waiter promoted
// into the freed slot, to be notified once the popped job's send succeeds.
func (q *jobQueue) pop() (job, waiter Job) {
	if q.list.Length() == 0 {
		return nil, nil
	}
	e := q.list.Remove().(*jobEntry)
	if e.backlogged {
		// the whole queue was backlog; the popped job is its own waiter
		return e.job, e.job
	}
	q.filled--
	if q.filled < q.list.Length() {
		ent := q.list.Get(q.filled).(*jobEntry)
		ent.backlogged = false
		q.filled++
		return e.job, ent.job
	}
	return e.job, nil
}
