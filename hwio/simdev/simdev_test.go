package simdev_test

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/usnistgov/eipring/core/testenv"
	"github.com/usnistgov/eipring/descring"
	"github.com/usnistgov/eipring/dma"
	"github.com/usnistgov/eipring/hwio"
	"github.com/usnistgov/eipring/hwio/simdev"
)

// fixture wires one ring pair to a SimDev the way driver bring-up would.
type fixture struct {
	arena *dma.Arena
	dev   *simdev.SimDev
	pair  *descring.Pair
	irq   chan int
}

const fixtureEntries = 16

func makeFixture(t *testing.T) *fixture {
	_, require := makeAR(t)
	f := &fixture{
		arena: makeArena(1 << 20),
		irq:   make(chan int, 4),
	}
	t.Cleanup(func() { f.arena.Close() })

	var e error
	f.dev, e = simdev.New(f.arena, simdev.Config{})
	require.NoError(e)
	t.Cleanup(func() { f.dev.Close() })
	f.dev.SetInterruptHandler(func(ring int) { f.irq <- ring })

	lay := descring.NewLayout(2, true)
	f.pair, e = descring.NewPair(f.arena, fixtureEntries, lay, true, 0)
	require.NoError(e)

	cdr, rdr := hwio.CDR(0), hwio.RDR(0)
	w := f.dev.WriteRegister
	w(cdr+hwio.RegRingBaseLo, uint32(f.pair.CDR().BaseAddr()))
	w(cdr+hwio.RegRingBaseHi, uint32(f.pair.CDR().BaseAddr()>>32))
	w(cdr+hwio.RegRingSize, uint32(fixtureEntries*lay.CDStride))
	w(cdr+hwio.RegDescSize, hwio.DescMode64Bit|
		uint32(lay.CDStride)<<hwio.DescStrideShift|uint32(lay.CDStride/4))
	w(cdr+hwio.RegPrepCount, hwio.CountClear)
	w(cdr+hwio.RegProcCount, hwio.CountClear)

	w(rdr+hwio.RegRingBaseLo, uint32(f.pair.RDR().BaseAddr()))
	w(rdr+hwio.RegRingBaseHi, uint32(f.pair.RDR().BaseAddr()>>32))
	w(rdr+hwio.RegRingSize, uint32(fixtureEntries*lay.RDStride))
	w(rdr+hwio.RegDescSize, hwio.DescMode64Bit|
		uint32(lay.ResOffset/4)<<hwio.DescResOffsetShift|
		uint32(lay.RDStride)<<hwio.DescStrideShift|uint32(lay.RDStride/4))
	w(rdr+hwio.RegCfg, hwio.CfgOwnershipWordEnable)
	w(rdr+hwio.RegPrepCount, hwio.CountClear)
	w(rdr+hwio.RegProcCount, hwio.CountClear)
	w(rdr+hwio.RegStat, hwio.StatAll)
	w(rdr+hwio.RegThresh, hwio.ThreshPktMode|1)
	return f
}

func (f *fixture) alloc(t *testing.T, size int) dma.Region {
	_, require := makeAR(t)
	r, e := f.arena.Alloc(size, 8)
	require.NoError(e)
	return r
}

// submitHash publishes a hash job over the given fragments and returns the
// output buffer region.
func (f *fixture) submitHash(t *testing.T, ctrl0 uint32, ctx dma.Region, frags ...dma.Region) dma.Region {
	_, require := makeAR(t)
	total := 0
	for _, fr := range frags {
		total += fr.Len()
	}
	for i, fr := range frags {
		d, e := f.pair.AddCommandDesc(i == 0, i == len(frags)-1,
			fr.Addr(), uint32(fr.Len()), uint32(total), ctx.Addr())
		require.NoError(e)
		if i == 0 {
			d.SetControl(ctrl0, 0)
		}
	}
	out := f.alloc(t, 64)
	_, _, e := f.pair.AddResultDesc(true, true, out.Addr(), uint32(out.Len()))
	require.NoError(e)
	f.publish(len(frags), 1)
	return out
}

func (f *fixture) publish(cdescs, rdescs int) {
	lay := f.pair.Layout()
	f.dev.WriteRegister(hwio.CDR(0)+hwio.RegPrepCount, uint32(cdescs*lay.CDStride))
	f.dev.WriteRegister(hwio.RDR(0)+hwio.RegPrepCount, uint32(rdescs*lay.RDStride))
}

func (f *fixture) awaitIRQ(t *testing.T) {
	_, require := makeAR(t)
	select {
	case ring := <-f.irq:
		require.Equal(0, ring)
	case <-time.After(time.Second):
		require.FailNow("interrupt not raised")
	}
}

func (f *fixture) ack(pkts, rdescs int) {
	f.dev.WriteRegister(hwio.RDR(0)+hwio.RegProcCount,
		hwio.ProcPkt(pkts)|uint32(rdescs*f.pair.Layout().RDStride))
	f.dev.WriteRegister(hwio.RDR(0)+hwio.RegStat, hwio.StatAll)
}

const hashCtrlSHA256 = descring.ControlTypeHashOut | 32<<descring.ControlSizeShift |
	descring.ControlRestartHash | descring.ControlAlgSHA256

func TestHashJob(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t)

	payload := testenv.RandBytes(192)
	in := f.alloc(t, len(payload))
	copy(in.Bytes(), payload)
	ctx := f.alloc(t, 64)

	out := f.submitHash(t, hashCtrlSHA256, ctx, in)
	f.awaitIRQ(t)

	nreq := f.dev.ReadRegister(hwio.RDR(0)+hwio.RegProcCount) >> hwio.ProcPktOffset
	assert.EqualValues(1, nreq)

	rd, e := f.pair.NextResultRead()
	require.NoError(e)
	assert.Zero(rd.ErrorCode())
	assert.EqualValues(sha256.Size, rd.PacketLength())
	expect := sha256.Sum256(payload)
	assert.Equal(expect[:], out.Bytes()[:sha256.Size])

	f.ack(1, 1)
	assert.Zero(f.dev.ReadRegister(hwio.RDR(0)+hwio.RegProcCount) >> hwio.ProcPktOffset)
	assert.Zero(f.dev.ReadRegister(hwio.RDR(0) + hwio.RegStat))
}

func TestHashFragments(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t)

	payload := testenv.RandBytes(300)
	var frags []dma.Region
	for off := 0; off < len(payload); off += 100 {
		fr := f.alloc(t, 100)
		copy(fr.Bytes(), payload[off:off+100])
		frags = append(frags, fr)
	}
	ctx := f.alloc(t, 64)

	out := f.submitHash(t, hashCtrlSHA256, ctx, frags...)
	f.awaitIRQ(t)

	rd, e := f.pair.NextResultRead()
	require.NoError(e)
	assert.Zero(rd.ErrorCode())
	expect := sha256.Sum256(payload)
	assert.Equal(expect[:], out.Bytes()[:sha256.Size])
	f.ack(1, 1)
}

func TestRecordContinuation(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t)

	payload := testenv.RandBytes(256)
	ctx := f.alloc(t, 64)

	// first half: restart, keep state in the record cache, no output
	in1 := f.alloc(t, 128)
	copy(in1.Bytes(), payload[:128])
	f.submitHash(t, hashCtrlSHA256|descring.ControlNoFinishHash, ctx, in1)
	f.awaitIRQ(t)
	rd, e := f.pair.NextResultRead()
	require.NoError(e)
	assert.Zero(rd.PacketLength())
	f.ack(1, 1)

	// second half: continue from the cached record and finish
	in2 := f.alloc(t, 128)
	copy(in2.Bytes(), payload[128:])
	out := f.submitHash(t, hashCtrlSHA256&^descring.ControlRestartHash, ctx, in2)
	f.awaitIRQ(t)
	_, e = f.pair.NextResultRead()
	require.NoError(e)
	expect := sha256.Sum256(payload)
	assert.Equal(expect[:], out.Bytes()[:sha256.Size])
	f.ack(1, 1)
}

func TestRecordInvalidation(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t)

	ctx := f.alloc(t, 64)
	in1 := f.alloc(t, 128)
	copy(in1.Bytes(), testenv.RandBytes(128))
	f.submitHash(t, hashCtrlSHA256|descring.ControlNoFinishHash, ctx, in1)
	f.awaitIRQ(t)
	_, e := f.pair.NextResultRead()
	require.NoError(e)
	f.ack(1, 1)

	// drop the cached record
	d, e := f.pair.AddCommandDesc(true, true, 0, 0, 0, ctx.Addr())
	require.NoError(e)
	d.SetControl(descring.ControlInvalidateRecord, 0)
	_, _, e = f.pair.AddResultDesc(true, true, 0, 0)
	require.NoError(e)
	f.publish(1, 1)
	f.awaitIRQ(t)
	rd, e := f.pair.NextResultRead()
	require.NoError(e)
	assert.Zero(rd.ErrorCode())
	f.ack(1, 1)

	// a continuation after invalidation starts from a fresh state
	payload := testenv.RandBytes(64)
	in2 := f.alloc(t, len(payload))
	copy(in2.Bytes(), payload)
	out := f.submitHash(t, hashCtrlSHA256&^descring.ControlRestartHash, ctx, in2)
	f.awaitIRQ(t)
	_, e = f.pair.NextResultRead()
	require.NoError(e)
	expect := sha256.Sum256(payload)
	assert.Equal(expect[:], out.Bytes()[:sha256.Size])
	f.ack(1, 1)
}

func TestInjectResultError(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t)

	in := f.alloc(t, 32)
	ctx := f.alloc(t, 64)
	f.dev.InjectResultError(0, descring.ResultErrAuthFailed)
	f.submitHash(t, hashCtrlSHA256, ctx, in)
	f.awaitIRQ(t)

	rd, e := f.pair.NextResultRead()
	require.NoError(e)
	assert.EqualValues(descring.ResultErrAuthFailed, rd.ErrorCode())
	f.ack(1, 1)
}

func TestHoldOwnership(t *testing.T) {
	assert, require := makeAR(t)
	f := makeFixture(t)

	in := f.alloc(t, 32)
	ctx := f.alloc(t, 64)
	f.dev.HoldOwnership(0, true)
	f.submitHash(t, hashCtrlSHA256, ctx, in)
	f.awaitIRQ(t)

	// the job is counted as processed but its slot is not yet readable
	nreq := f.dev.ReadRegister(hwio.RDR(0)+hwio.RegProcCount) >> hwio.ProcPktOffset
	assert.EqualValues(1, nreq)
	_, e := f.pair.NextResultRead()
	assert.ErrorIs(e, descring.ErrNotReady)

	f.dev.HoldOwnership(0, false)
	_, e = f.pair.NextResultRead()
	require.NoError(e)
	f.ack(1, 1)
}
