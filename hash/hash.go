// Package hash provides hash transforms executed on the offload engine.
package hash

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/usnistgov/eipring/core/logging"
	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/engine"
)

var logger = logging.New("Hash")

// Alg identifies a hash algorithm.
type Alg int

// Supported algorithms.
const (
	SHA256 Alg = iota
	SHA3_256
)

func (a Alg) String() string {
	switch a {
	case SHA256:
		return "sha256"
	case SHA3_256:
		return "sha3-256"
	}
	return fmt.Sprintf("alg(%d)", int(a))
}

// DigestSize returns the digest length in bytes.
func (a Alg) DigestSize() int {
	return 32
}

// BlockSize returns the algorithm block length in bytes.
func (a Alg) BlockSize() int {
	switch a {
	case SHA3_256:
		return 136
	default:
		return 64
	}
}

func (a Alg) ctrlAlg() (uint32, error) {
	switch a {
	case SHA256:
		return descring.ControlAlgSHA256, nil
	case SHA3_256:
		return descring.ControlAlgSHA3_256, nil
	}
	return 0, fmt.Errorf("unsupported algorithm %v", a)
}

// Transform is a hash transform bound to one ring and one context record.
// It may be used for any number of jobs, sequentially.
type Transform struct {
	eng  *engine.Engine
	ring *engine.Ring
	alg  Alg
	ctx  dma.Region
}

// New creates a Transform, taking a context record from the engine's shared
// pool and binding the transform to a round-robin selected ring.
func New(eng *engine.Engine, alg Alg) (*Transform, error) {
	if _, e := alg.ctrlAlg(); e != nil {
		return nil, e
	}
	ctx, e := eng.Records().Get()
	if e != nil {
		return nil, e
	}
	return &Transform{
		eng:  eng,
		ring: eng.Ring(eng.SelectRing()),
		alg:  alg,
		ctx:  ctx,
	}, nil
}

// Alg returns the transform's algorithm.
func (t *Transform) Alg() Alg {
	return t.alg
}

// Close invalidates the transform's context record in the engine and returns
// it to the pool.
func (t *Transform) Close() error {
	err := t.ring.InvalidateRecord(t.ctx)
	if err != nil {
		logger.Warn("record invalidation failed",
			zap.Int("ring", t.ring.Index()),
			zap.Error(err),
		)
	}
	t.eng.Records().Put(t.ctx)
	return err
}

// Sum computes the digest of data in a single job, blocking until the
// completion callback fires.
func (t *Transform) Sum(data []byte) ([]byte, error) {
	alg, _ := t.alg.ctrlAlg()
	j := &job{
		t:      t,
		data:   data,
		ctrl0:  hashOutControl(t.alg) | alg | descring.ControlRestartHash,
		finish: true,
		done:   make(chan error, 1),
	}
	if e := t.ring.Enqueue(j, true); e != nil && !errors.Is(e, engine.ErrBacklogged) {
		return nil, e
	}
	if e := <-j.done; e != nil {
		return nil, e
	}
	return j.digest, nil
}

func hashOutControl(alg Alg) uint32 {
	return descring.ControlTypeHashOut |
		uint32(alg.DigestSize()/4)<<descring.ControlSizeShift
}
