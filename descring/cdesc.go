package descring

import (
	"github.com/usnistgov/eipring/dma"
)

// Command descriptor word offsets in bytes.
const (
	cdOffFlags    = 0
	cdOffDataLo   = 8
	cdOffDataHi   = 12
	cdOffCtrl     = 16
	cdOffAppID    = 20
	cdOffContext  = 24
	cdOffCtxHi    = 28
	cdOffControl0 = 32
	cdOffControl1 = 36
	cdOffTokens   = 40
)

const particleMask = 0x1ffff

// Descriptor flag bits in word 0.
const (
	descLastSeg  = 1 << 22
	descFirstSeg = 1 << 23
)

// Control data option bits.
const (
	OptionMagicValue   = 1 << 0
	Option64BitCtx     = 1 << 1
	OptionCtxCtrlInCmd = 1 << 8
)

// Control data descriptor types.
const (
	TypeBasic    = 0x0
	TypeExtended = 0x3
)

// Context record pointer types.
const (
	PtrTypeNull       = 0
	PtrTypeFlow       = 1
	PtrTypeXformSmall = 2
	PtrTypeXformLarge = 3
)

// Control word 0 values understood by the processing engine.
// The ring engine treats control words as opaque; these are provided for the
// transform glue and the software device model.
const (
	ControlTypeHashOut      = 0x2
	ControlSizeShift        = 8
	ControlRestartHash      = 1 << 4
	ControlNoFinishHash     = 1 << 5
	ControlAlgSHA256        = 0x3 << 23
	ControlAlgSHA3_256      = 0x7 << 23
	ControlAlgMask          = 0x7 << 23
	ControlInvalidateRecord = 0x6 << 24
	ControlInvalidateFlow   = 0x5 << 24
	ControlInvalidateMask   = 0x7 << 24
)

// CommandDesc is one slot of the command ring.
type CommandDesc struct {
	r dma.Region
}

func (d CommandDesc) init(first, last bool, data uint64, dataLen, fullLen uint32, ctxRecord uint64) {
	d.r.Zero()

	flags := dataLen & particleMask
	if last {
		flags |= descLastSeg
	}
	if first {
		flags |= descFirstSeg
	}
	d.r.PutUint32(cdOffFlags, flags)
	d.r.PutUint32(cdOffDataLo, uint32(data))
	d.r.PutUint32(cdOffDataHi, uint32(data>>32))

	if first && ctxRecord != 0 {
		opts := uint32(OptionMagicValue | Option64BitCtx | OptionCtxCtrlInCmd)
		d.r.PutUint32(cdOffCtrl, fullLen&particleMask|opts<<17)
		d.r.PutUint32(cdOffContext, PtrTypeXformSmall|uint32(ctxRecord)&^3)
		d.r.PutUint32(cdOffCtxHi, uint32(ctxRecord>>32))

		for i := 0; i < MaxTokens; i++ {
			d.SetToken(i, NoopToken)
		}
	}
}

// FirstSeg reports whether this is the first fragment of a job.
func (d CommandDesc) FirstSeg() bool {
	return d.r.Uint32(cdOffFlags)&descFirstSeg != 0
}

// LastSeg reports whether this is the last fragment of a job.
func (d CommandDesc) LastSeg() bool {
	return d.r.Uint32(cdOffFlags)&descLastSeg != 0
}

// ParticleSize returns the byte length of this DMA fragment.
func (d CommandDesc) ParticleSize() uint32 {
	return d.r.Uint32(cdOffFlags) & particleMask
}

// DataAddr returns the fragment's data pointer.
func (d CommandDesc) DataAddr() uint64 {
	return uint64(d.r.Uint32(cdOffDataLo)) | uint64(d.r.Uint32(cdOffDataHi))<<32
}

// PacketLength returns the full job length from the control data.
func (d CommandDesc) PacketLength() uint32 {
	return d.r.Uint32(cdOffCtrl) & particleMask
}

// Options returns the control data option bits.
func (d CommandDesc) Options() uint32 {
	return d.r.Uint32(cdOffCtrl) >> 17 & 0x1fff
}

// SetOptions replaces the control data option bits.
func (d CommandDesc) SetOptions(opts uint32) {
	w := d.r.Uint32(cdOffCtrl)
	d.r.PutUint32(cdOffCtrl, w&^(uint32(0x1fff)<<17)|(opts&0x1fff)<<17)
}

// Type returns the control data descriptor type.
func (d CommandDesc) Type() uint32 {
	return d.r.Uint32(cdOffCtrl) >> 30
}

// SetType replaces the control data descriptor type.
func (d CommandDesc) SetType(t uint32) {
	w := d.r.Uint32(cdOffCtrl)
	d.r.PutUint32(cdOffCtrl, w&^(uint32(3)<<30)|t<<30)
}

// PtrType returns the context record pointer type.
func (d CommandDesc) PtrType() uint32 {
	return d.r.Uint32(cdOffContext) & 3
}

// SetPtrType replaces the context record pointer type.
func (d CommandDesc) SetPtrType(t uint32) {
	w := d.r.Uint32(cdOffContext)
	d.r.PutUint32(cdOffContext, w&^3|t&3)
}

// ContextAddr returns the context record pointer.
// The low two bits carry the pointer type, so records are 4-byte aligned.
func (d CommandDesc) ContextAddr() uint64 {
	return uint64(d.r.Uint32(cdOffContext)&^3) | uint64(d.r.Uint32(cdOffCtxHi))<<32
}

// Control0 returns control word 0.
func (d CommandDesc) Control0() uint32 {
	return d.r.Uint32(cdOffControl0)
}

// Control1 returns control word 1.
func (d CommandDesc) Control1() uint32 {
	return d.r.Uint32(cdOffControl1)
}

// SetControl writes both control words.
func (d CommandDesc) SetControl(c0, c1 uint32) {
	d.r.PutUint32(cdOffControl0, c0)
	d.r.PutUint32(cdOffControl1, c1)
}

// Token returns the i-th token.
func (d CommandDesc) Token(i int) Token {
	return decodeToken(d.r.Uint32(cdOffTokens + 4*i))
}

// SetToken writes the i-th token.
func (d CommandDesc) SetToken(i int, t Token) {
	d.r.PutUint32(cdOffTokens+4*i, t.encode())
}
