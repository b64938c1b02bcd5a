package engine_test

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/usnistgov/eipring/core/testenv"
	"github.com/usnistgov/eipring/engine"
)

func TestSingleJob(t *testing.T) {
	assert, _ := makeAR(t)
	f := makeFixture(t, engine.Config{})

	payload := testenv.RandBytes(333)
	j := newHashJob(t, f, payload)
	assert.NoError(f.eng.Ring(0).Enqueue(j, false))
	assert.NoError(j.await(t))

	expect := sha256.Sum256(payload)
	assert.Equal(expect[:], j.digest)
	assert.Zero(f.eng.Ring(0).InFlight())
	assert.EqualValues(1, f.eng.Counters().Dispatched.Count())
	assert.EqualValues(1, f.eng.Counters().Completed.Count())
}

func TestRoundRobinSelection(t *testing.T) {
	assert, _ := makeAR(t)
	f := makeFixture(t, engine.Config{Rings: 3})

	seen := map[int]int{}
	for i := 0; i < 9; i++ {
		seen[f.eng.SelectRing()]++
	}
	assert.Len(seen, 3)
	for ring, count := range seen {
		assert.Equal(3, count, "ring %d", ring)
	}
}

func TestInvalidateRecord(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t, engine.Config{})

	ctx, e := f.eng.Records().Get()
	require.NoError(e)
	defer f.eng.Records().Put(ctx)

	assert.NoError(f.eng.Ring(0).InvalidateRecord(ctx))
}

func TestRingFatalEvent(t *testing.T) {
	assert, _ := makeAR(t)
	f := makeFixture(t, engine.Config{})

	fatal := make(chan int, 1)
	defer f.eng.OnRingFatal(func(ring int) { fatal <- ring }).Close()

	f.dev.InjectRingError(0)
	select {
	case ring := <-fatal:
		assert.Equal(0, ring)
	case <-time.After(time.Second):
		t.Fatal("fatal event not emitted")
	}
	assert.EqualValues(1, f.eng.Counters().RingFatals.Count())
}

func TestEnqueueAfterClose(t *testing.T) {
	assert, _ := makeAR(t)
	f := makeFixture(t, engine.Config{})

	j := newHashJob(t, f, testenv.RandBytes(64))
	assert.NoError(f.eng.Ring(0).Enqueue(j, false))
	assert.NoError(j.await(t))
	assert.NoError(f.eng.Close())

	// a late submission is never dispatched, but must not panic
	late := newHashJob(t, f, testenv.RandBytes(64))
	assert.NotPanics(func() {
		f.eng.Ring(0).Enqueue(late, false)
	})
	f.eng.Records().Put(late.ctx)
}
