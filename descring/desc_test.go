package descring_test

import (
	"testing"

	"github.com/usnistgov/eipring/descring"
)

func makePair(entries int, ownWord bool) (*descring.Pair, func()) {
	a := makeArena(1 << 20)
	lay := descring.NewLayout(2, ownWord)
	p, e := descring.NewPair(a, entries, lay, ownWord, 0)
	if e != nil {
		panic(e)
	}
	return p, func() { a.Close() }
}

func TestLayout(t *testing.T) {
	assert, _ := makeAR(t)

	lay := descring.NewLayout(2, true)
	assert.Equal(80, lay.CDStride)  // 18 words rounded to 20
	assert.Equal(48, lay.RDStride)  // 4+4 words rounded to 8, plus a bus word
	assert.Equal(16, lay.ResOffset) // 4 words rounded to 4
	assert.Equal(44, lay.OwnOffset)

	lay = descring.NewLayout(2, false)
	assert.Equal(32, lay.RDStride)

	lay = descring.NewLayout(3, true)
	assert.Equal(96, lay.CDStride) // 18 words rounded to 24
	assert.Equal(96, lay.RDStride) // 12 words rounded to 16, plus a bus word
	assert.Equal(32, lay.ResOffset)
}

func TestCommandDescCodec(t *testing.T) {
	assert, require := makeAR(t)
	p, stop := makePair(8, true)
	defer stop()

	const data = uint64(0x1_2345_6789_ABC0)
	const ctx = uint64(0xFEDC_BA98_7654_3210) &^ 3

	d, e := p.AddCommandDesc(true, false, data, 1234, 99999, ctx)
	require.NoError(e)

	assert.True(d.FirstSeg())
	assert.False(d.LastSeg())
	assert.EqualValues(1234, d.ParticleSize())
	assert.Equal(data, d.DataAddr())
	assert.EqualValues(99999, d.PacketLength())
	assert.Equal(ctx, d.ContextAddr())
	assert.EqualValues(descring.PtrTypeXformSmall, d.PtrType())
	assert.EqualValues(descring.OptionMagicValue|descring.Option64BitCtx|descring.OptionCtxCtrlInCmd,
		d.Options())

	// all tokens default to no-ops
	for i := 0; i < descring.MaxTokens; i++ {
		assert.Equal(descring.NoopToken, d.Token(i), "token %d", i)
	}

	tkn := descring.Token{
		Opcode:       descring.TokenOpcodeInsert,
		Stat:         descring.TokenStatLastPacket,
		Instructions: descring.TokenInsHashDigest | descring.TokenInsTypeOutput | descring.TokenInsLast,
		Length:       32,
	}
	d.SetToken(1, tkn)
	assert.Equal(tkn, d.Token(1))
	assert.Equal(descring.NoopToken, d.Token(0))

	d.SetControl(descring.ControlInvalidateRecord, 0x55)
	assert.EqualValues(descring.ControlInvalidateRecord, d.Control0())
	assert.EqualValues(0x55, d.Control1())

	d.SetType(descring.TypeExtended)
	d.SetOptions(0)
	d.SetPtrType(descring.PtrTypeNull)
	assert.EqualValues(descring.TypeExtended, d.Type())
	assert.Zero(d.Options())
	assert.EqualValues(descring.PtrTypeNull, d.PtrType())
	// packet length survives option rewrites
	assert.EqualValues(99999, d.PacketLength())
}

func TestCommandDescNoContext(t *testing.T) {
	assert, require := makeAR(t)
	p, stop := makePair(8, true)
	defer stop()

	// non-first fragments carry no control data
	d, e := p.AddCommandDesc(false, true, 0x1000, 64, 128, 0x2000)
	require.NoError(e)
	assert.Zero(d.PacketLength())
	assert.Zero(d.ContextAddr())

	d, e = p.AddCommandDesc(true, true, 0x1000, 64, 128, 0)
	require.NoError(e)
	assert.Zero(d.PacketLength())
}

func TestResultDescCodec(t *testing.T) {
	assert, require := makeAR(t)
	p, stop := makePair(8, true)
	defer stop()

	d, _, e := p.AddResultDesc(true, true, 0x7000, 32)
	require.NoError(e)
	assert.True(d.FirstSeg())
	assert.True(d.LastSeg())
	assert.EqualValues(32, d.ParticleSize())
	assert.EqualValues(0x7000, d.DataAddr())
	assert.Zero(d.ErrorCode())
	assert.False(d.Overflow())

	d.SetResult(32, descring.ResultErrAuthFailed)
	assert.EqualValues(32, d.PacketLength())
	assert.EqualValues(descring.ResultErrAuthFailed, d.ErrorCode())
}
