// Package engine operates the descriptor ring pairs of a crypto offload
// device: per-ring job queues, the dispatch path that turns jobs into
// command/result descriptors, and the interrupt-driven completion reclaimer.
package engine

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/usnistgov/eipring/core/events"
	"github.com/usnistgov/eipring/core/logging"
	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/hwio"
)

var logger = logging.New("Engine")

// EvtRingFatal is emitted with a ring index when that ring reports a fatal
// status. The ring is unusable afterwards; no automatic recovery is attempted.
const EvtRingFatal = "ring-fatal"

// Counters aggregate engine activity totals.
type Counters struct {
	// Dispatched counts jobs handed to the device.
	Dispatched metrics.Counter
	// Completed counts completion callbacks delivered.
	Completed metrics.Counter
	// JobErrors counts completions that carried an error.
	JobErrors metrics.Counter
	// RingFatals counts fatal ring status interrupts.
	RingFatals metrics.Counter
}

func newCounters(reg metrics.Registry) Counters {
	return Counters{
		Dispatched: metrics.NewRegisteredCounter("dispatched", reg),
		Completed:  metrics.NewRegisteredCounter("completed", reg),
		JobErrors:  metrics.NewRegisteredCounter("jobErrors", reg),
		RingFatals: metrics.NewRegisteredCounter("ringFatals", reg),
	}
}

// Engine drives the descriptor rings of one offload device.
type Engine struct {
	cfg       Config
	dev       hwio.Device
	arena     *dma.Arena
	layout    descring.Layout
	records   *dma.Pool
	buffers   *dma.Pool
	rings     []*Ring
	emitter   *events.Emitter
	reg       metrics.Registry
	cnt       Counters
	rr        uint32
	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates an Engine over the device, allocating rings and buffer pools
// from the arena and programming the ring register banks. The arena must be
// the one the device performs DMA against.
func New(dev hwio.Device, arena *dma.Arena, cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	e := &Engine{
		cfg:     cfg,
		dev:     dev,
		arena:   arena,
		layout:  descring.NewLayout(cfg.DataWidth, !cfg.DisableOwnershipWord),
		emitter: events.NewEmitter(),
		reg:     metrics.NewRegistry(),
	}
	e.cnt = newCounters(e.reg)

	var err error
	if e.records, err = dma.NewPool(arena, cfg.RecordEntries, RecordSize); err != nil {
		return nil, fmt.Errorf("record pool: %w", err)
	}
	if e.buffers, err = dma.NewPool(arena, cfg.BufferEntries, cfg.BufferSize); err != nil {
		return nil, fmt.Errorf("buffer pool: %w", err)
	}

	e.rings = make([]*Ring, cfg.Rings)
	for i := range e.rings {
		r, err := newRing(e, i)
		if err != nil {
			return nil, fmt.Errorf("ring %d: %w", i, err)
		}
		e.rings[i] = r
	}

	dev.SetInterruptHandler(func(ring int) { e.rings[ring].serviceInterrupt() })

	for _, r := range e.rings {
		e.workers.Add(1)
		go r.workerLoop()
	}

	logger.Info("engine created",
		zap.Int("rings", cfg.Rings),
		zap.Int("ringEntries", cfg.RingEntries),
		zap.Bool("ownershipWord", !cfg.DisableOwnershipWord),
		zap.Bool("avoidDeviceRead", cfg.AvoidDeviceRead),
	)
	return e, nil
}

// Close stops the device and the ring workers. Jobs still queued or in
// flight are abandoned and reported, not completed; a job enqueued after
// Close is silently never dispatched. The arena stays open; it belongs to
// the caller. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		errs := []error{e.dev.Close()}
		for _, r := range e.rings {
			close(r.quit)
			if n := r.InFlight(); n > 0 {
				errs = append(errs, fmt.Errorf("ring %d: %d requests abandoned", r.index, n))
			}
		}
		e.workers.Wait()
		logger.Info("engine closed")
		e.closeErr = multierr.Combine(errs...)
	})
	return e.closeErr
}

// SelectRing returns the ring index for a new transform, round-robin.
func (e *Engine) SelectRing() int {
	return int(atomic.AddUint32(&e.rr, 1)) % len(e.rings)
}

// Ring returns the i-th ring.
func (e *Engine) Ring(i int) *Ring {
	return e.rings[i]
}

// Rings returns the number of rings.
func (e *Engine) Rings() int {
	return len(e.rings)
}

// Layout returns the descriptor ring layout.
func (e *Engine) Layout() descring.Layout {
	return e.layout
}

// Records returns the shared context record pool.
func (e *Engine) Records() *dma.Pool {
	return e.records
}

// Buffers returns the shared DMA bounce buffer pool.
func (e *Engine) Buffers() *dma.Pool {
	return e.buffers
}

// Counters returns the engine's activity counters.
func (e *Engine) Counters() Counters {
	return e.cnt
}

// Metrics returns the registry holding the engine's counters.
func (e *Engine) Metrics() metrics.Registry {
	return e.reg
}

// OnRingFatal registers a callback for EvtRingFatal.
func (e *Engine) OnRingFatal(cb func(ring int)) io.Closer {
	return e.emitter.On(EvtRingFatal, cb)
}
