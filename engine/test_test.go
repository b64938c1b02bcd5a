package engine_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/usnistgov/eipring/core/testenv"
	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/engine"
	"github.com/usnistgov/eipring/hwio/simdev"
)

var makeAR = testenv.MakeAR

type fixture struct {
	arena *dma.Arena
	dev   *simdev.SimDev
	eng   *engine.Engine
}

func makeFixture(t *testing.T, cfg engine.Config) *fixture {
	_, require := makeAR(t)
	f := &fixture{}

	var e error
	f.arena, e = dma.NewArena(1 << 22)
	require.NoError(e)
	t.Cleanup(func() { f.arena.Close() })

	f.dev, e = simdev.New(f.arena, simdev.Config{Rings: cfg.Rings})
	require.NoError(e)

	f.eng, e = engine.New(f.dev, f.arena, cfg)
	require.NoError(e)
	t.Cleanup(func() { f.eng.Close() })
	return f
}

const testHashCtrl = descring.ControlTypeHashOut | 8<<descring.ControlSizeShift |
	descring.ControlRestartHash | descring.ControlAlgSHA256

// hashJob is a minimal one-fragment SHA-256 job used to exercise the
// dispatch/reclaim pipeline.
type hashJob struct {
	eng      *engine.Engine
	payload  []byte
	in, out  dma.Region
	ctx      dma.Region
	digest   []byte
	done     chan error
	notified int32
}

func newHashJob(t *testing.T, f *fixture, payload []byte) *hashJob {
	_, require := makeAR(t)
	j := &hashJob{eng: f.eng, payload: payload, done: make(chan error, 1)}

	var e error
	j.in, e = f.arena.Alloc(len(payload), 8)
	require.NoError(e)
	copy(j.in.Bytes(), payload)
	j.out, e = f.arena.Alloc(64, 8)
	require.NoError(e)
	j.ctx, e = f.eng.Records().Get()
	require.NoError(e)
	return j
}

func (j *hashJob) Send(r *engine.Ring) (int, int, error) {
	return j.send(r, j)
}

// send binds owner as the completing job, so wrapper types embedding hashJob
// can route HandleResult and Complete through themselves.
func (j *hashJob) send(r *engine.Ring, owner engine.Job) (int, int, error) {
	cd, e := r.AddCommandDesc(true, true, j.in.Addr(), uint32(len(j.payload)),
		uint32(len(j.payload)), j.ctx.Addr())
	if e != nil {
		return 0, 0, e
	}
	cd.SetControl(testHashCtrl, 0)
	if _, e := r.AddResultDesc(owner, true, true, j.out.Addr(), uint32(j.out.Len())); e != nil {
		r.RollbackCommand()
		return 0, 0, e
	}
	return 1, 1, nil
}

func (j *hashJob) HandleResult(r *engine.Ring) (int, bool, error) {
	rd, e := r.NextResult()
	if e != nil {
		return 0, false, nil
	}
	res := r.ResultError(rd)
	if res == nil {
		j.digest = append([]byte(nil), j.out.Bytes()[:rd.PacketLength()]...)
	}
	r.AckCommands()
	return 1, true, res
}

func (j *hashJob) Complete(err error) {
	j.eng.Records().Put(j.ctx)
	j.done <- err
}

func (j *hashJob) InProgress() {
	atomic.AddInt32(&j.notified, 1)
}

func (j *hashJob) await(t *testing.T) error {
	select {
	case e := <-j.done:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("job did not complete")
		return nil
	}
}
