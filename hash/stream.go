package hash

import (
	"errors"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/engine"
)

const (
	// streamCacheCap is the initial capacity of a stream's software cache.
	streamCacheCap = 4096
	// streamFlushMin is the cache fill level at which whole blocks are pushed
	// to the engine as a continuation job.
	streamFlushMin = 1024
)

// Stream is an incremental hash over one transform's context record. Writes
// below the flush threshold are cached in software and absorbed without
// touching the device; larger accumulations are flushed in block multiples as
// hash continuation jobs, leaving the partial tail cached. At most one Stream
// may use a Transform at a time.
type Stream struct {
	t       *Transform
	cache   []byte
	started bool
}

// NewStream creates a Stream over the transform's context record.
func (t *Transform) NewStream() *Stream {
	return &Stream{t: t, cache: mcache.Malloc(0, streamCacheCap)}
}

// Write implements io.Writer. It blocks until the chunk has been cached or
// hashed by the engine.
func (s *Stream) Write(p []byte) (int, error) {
	j := &job{t: s.t, s: s, data: p, done: make(chan error, 1)}
	if e := s.t.ring.Enqueue(j, true); e != nil && !errors.Is(e, engine.ErrBacklogged) {
		return 0, e
	}
	if e := <-j.done; e != nil {
		return 0, e
	}
	return len(p), nil
}

// Sum finishes the stream and returns the digest. The stream is reset and may
// accumulate a new message afterwards.
func (s *Stream) Sum() ([]byte, error) {
	j := &job{t: s.t, s: s, finish: true, done: make(chan error, 1)}
	if e := s.t.ring.Enqueue(j, true); e != nil && !errors.Is(e, engine.ErrBacklogged) {
		return nil, e
	}
	if e := <-j.done; e != nil {
		return nil, e
	}
	return j.digest, nil
}

// Close releases the stream's cache. The underlying Transform stays open.
func (s *Stream) Close() error {
	mcache.Free(s.cache)
	s.cache = nil
	return nil
}

// sendStream runs on the ring worker. The cache append happens exactly once
// even if the dispatcher parks and retries this job.
func (j *job) sendStream(r *engine.Ring) (int, int, error) {
	s := j.s
	if !j.absorbed {
		s.ensure(len(j.data))
		s.cache = append(s.cache, j.data...)
		j.absorbed = true
	}

	alg, _ := s.t.alg.ctrlAlg()
	ctrl := hashOutControl(s.t.alg) | alg
	if !s.started {
		ctrl |= descring.ControlRestartHash
	}

	if j.finish {
		cdescs, rdescs, e := j.sendPayload(r, s.cache, ctrl)
		if e != nil {
			return 0, 0, e
		}
		s.cache = s.cache[:0]
		s.started = false
		return cdescs, rdescs, nil
	}

	blk := s.t.alg.BlockSize()
	flush := len(s.cache) - len(s.cache)%blk
	if len(s.cache) < streamFlushMin || flush == 0 {
		// cached in software; nothing for the engine
		j.done <- nil
		return 0, 0, nil
	}

	cdescs, rdescs, e := j.sendPayload(r, s.cache[:flush], ctrl|descring.ControlNoFinishHash)
	if e != nil {
		return 0, 0, e
	}
	// the flushed prefix now lives in bounce buffers; keep only the tail
	rem := copy(s.cache, s.cache[flush:])
	s.cache = s.cache[:rem]
	s.started = true
	return cdescs, rdescs, nil
}

func (s *Stream) ensure(n int) {
	need := len(s.cache) + n
	if need <= cap(s.cache) {
		return
	}
	grown := mcache.Malloc(len(s.cache), 2*need)
	copy(grown, s.cache)
	mcache.Free(s.cache)
	s.cache = grown
}
