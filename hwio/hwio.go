// Package hwio defines the per-ring control register surface of the offload engine.
//
// The protocol is normative even though register bit layouts are
// device-specific: software writes the prepared count after building
// descriptors, reads or acknowledges the processed count after reclaiming
// them, and never trusts a result slot before the ownership word (when
// enabled) confirms it.
package hwio

import "io"

// CDR returns the command descriptor ring register bank offset of a ring.
func CDR(ring int) uint32 {
	return uint32(ring) * 0x1000
}

// RDR returns the result descriptor ring register bank offset of a ring.
func RDR(ring int) uint32 {
	return uint32(ring)*0x1000 + 0x800
}

// Register offsets within a CDR/RDR bank.
const (
	RegRingBaseLo = 0x0000
	RegRingBaseHi = 0x0004
	RegRingSize   = 0x0018
	RegDescSize   = 0x001c
	RegCfg        = 0x0020
	RegDMACfg     = 0x0024
	RegThresh     = 0x0028
	RegPrepCount  = 0x002c
	RegProcCount  = 0x0030
	RegPrepPtr    = 0x0034
	RegProcPtr    = 0x0038
	RegStat       = 0x003c
)

// RegDescSize fields: bit 31 selects 64-bit descriptors, bits 30:25 carry the
// result metadata offset in words (result ring only), bits 24:14 carry the
// slot stride in bytes, low bits carry the fetched descriptor size in words.
const (
	DescMode64Bit      = 1 << 31
	DescResOffsetShift = 25
	DescResOffsetMask  = 0x3f
	DescStrideShift    = 14
	DescStrideMask     = 0x7ff
	DescSizeWordMask   = 0x3fff
)

// RegCfg bits.
const (
	CfgOwnershipWordEnable = 1 << 31
)

// RegDMACfg fields: descriptor fetch/writeback cache behavior.
const (
	DMACfgWrCacheShift   = 25
	DMACfgRdCacheShift   = 29
	DMACfgCacheWriteBack = 3
	DMACfgDefault        = DMACfgCacheWriteBack<<DMACfgWrCacheShift | DMACfgCacheWriteBack<<DMACfgRdCacheShift
)

// RegThresh fields: packet-count threshold in the low bits, mode flags above.
const (
	ThreshPktCountMask = 0x3fffff
	ThreshProcMode     = 1 << 22
	ThreshPktMode      = 1 << 23
	ThreshTimeoutShift = 24
)

// RegPrepCount / RegProcCount fields. Both registers have write-to-advance
// semantics: byte counts in the low bits, a packet count field at bit 24, and
// a clear bit.
const (
	ProcPktOffset = 24
	ProcPktMask   = 0x7f
	CountClear    = 1 << 31
)

// ProcPkt shifts a packet count into its RegProcCount field.
func ProcPkt(n int) uint32 {
	return uint32(n) << ProcPktOffset
}

// RegStat bits. Writing a set bit acknowledges it.
const (
	StatDMAErr        = 1 << 0
	StatPrepCmdThresh = 1 << 1
	StatErr           = 1 << 2
	StatThresh        = 1 << 4
	StatTimeout       = 1 << 5
	StatAll           = 0xff
)

// InterruptHandler services a ring interrupt. It runs on the device's
// interrupt context; the device raises no further interrupts for that ring
// until the handler returns.
type InterruptHandler func(ring int)

// Device is the memory-mapped ring control surface of an offload engine.
// Register accesses are individually atomic; the Device performs no DMA into
// memory software has not published via RegPrepCount.
type Device interface {
	io.Closer

	// ReadRegister reads a 32-bit register.
	ReadRegister(off uint32) uint32

	// WriteRegister writes a 32-bit register.
	WriteRegister(off uint32, v uint32)

	// SetInterruptHandler registers the per-ring interrupt service routine.
	// Must be called before descriptors are published.
	SetInterruptHandler(h InterruptHandler)
}
