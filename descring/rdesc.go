package descring

import (
	"github.com/usnistgov/eipring/dma"
)

// Result descriptor word offsets in bytes.
const (
	rdOffFlags  = 0
	rdOffDataLo = 8
	rdOffDataHi = 12
)

// Result descriptor flag bits in word 0.
const (
	rdDescOverflow   = 1 << 20
	rdBufferOverflow = 1 << 21
)

// Result metadata error code classes.
const (
	// ResultErrFatalMask covers protocol and DMA level corruption.
	ResultErrFatalMask = 0x407f
	// ResultErrAuthFailed indicates an authentication (integrity) failure.
	ResultErrAuthFailed = 1 << 9
)

// ResultDesc is one slot of the result ring, including the trailing result
// metadata and, when enabled, the ownership word.
type ResultDesc struct {
	r   dma.Region
	lay Layout
}

func (d ResultDesc) init(first, last bool, data uint64, dataLen uint32) {
	d.r.Zero()

	flags := dataLen & particleMask
	if last {
		flags |= descLastSeg
	}
	if first {
		flags |= descFirstSeg
	}
	d.r.PutUint32(rdOffFlags, flags)
	d.r.PutUint32(rdOffDataLo, uint32(data))
	d.r.PutUint32(rdOffDataHi, uint32(data>>32))
}

// FirstSeg reports whether this is the first fragment of a job.
func (d ResultDesc) FirstSeg() bool {
	return d.r.Uint32(rdOffFlags)&descFirstSeg != 0
}

// LastSeg reports whether this is the last fragment of a job.
func (d ResultDesc) LastSeg() bool {
	return d.r.Uint32(rdOffFlags)&descLastSeg != 0
}

// ParticleSize returns the byte capacity of the output fragment.
func (d ResultDesc) ParticleSize() uint32 {
	return d.r.Uint32(rdOffFlags) & particleMask
}

// DataAddr returns the output data pointer.
func (d ResultDesc) DataAddr() uint64 {
	return uint64(d.r.Uint32(rdOffDataLo)) | uint64(d.r.Uint32(rdOffDataHi))<<32
}

// Overflow reports whether the engine flagged a descriptor or buffer overflow.
func (d ResultDesc) Overflow() bool {
	return d.r.Uint32(rdOffFlags)&(rdDescOverflow|rdBufferOverflow) != 0
}

// PacketLength returns the produced byte length from the result metadata.
func (d ResultDesc) PacketLength() uint32 {
	return d.r.Uint32(d.lay.ResOffset) & particleMask
}

// ErrorCode returns the packed error code from the result metadata.
func (d ResultDesc) ErrorCode() uint32 {
	return d.r.Uint32(d.lay.ResOffset) >> 17 & 0x7fff
}

// SetResult fills the result metadata. Used by the engine side of the ring.
func (d ResultDesc) SetResult(pktLen, errCode uint32) {
	d.r.PutUint32(d.lay.ResOffset, pktLen&particleMask|(errCode&0x7fff)<<17)
}

// OwnershipWord returns the slot's trailing ownership word for atomic access.
func (d ResultDesc) OwnershipWord() *uint32 {
	return d.r.Word32(d.lay.OwnOffset)
}
