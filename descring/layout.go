package descring

// Descriptor sizes in 32-bit words, for the 64-bit descriptor format.
const (
	cdFetchWords  = 18 // command descriptor including inline control data and tokens
	rdFetchWords  = 4  // result descriptor without the result metadata
	rdResultWords = 4  // result metadata behind the result descriptor
)

// MaxTokens is the number of token slots in a command descriptor's control data.
const MaxTokens = 8

// Layout holds the byte strides and intra-slot offsets of both rings,
// derived from the engine's data bus width.
type Layout struct {
	// CDStride is the command ring per-slot stride in bytes.
	CDStride int
	// RDStride is the result ring per-slot stride in bytes.
	RDStride int
	// ResOffset is the byte offset of the result metadata within a result slot.
	ResOffset int
	// OwnOffset is the byte offset of the trailing ownership word within a
	// result slot. Meaningful only when ownership words are enabled.
	OwnOffset int
}

// NewLayout computes ring layout.
// dataWidth is log2 of the bus width in 32-bit words; all offsets are rounded
// up to full bus words. When ownWord is set, the result slot is extended by
// one bus word so the ownership word trails everything the engine writes.
func NewLayout(dataWidth int, ownWord bool) Layout {
	mask := 1<<dataWidth - 1

	cdWords := (cdFetchWords + mask) &^ mask

	resWords := (rdFetchWords + mask) &^ mask
	rdWords := (resWords + rdResultWords + mask) &^ mask
	if ownWord {
		rdWords += mask + 1
	}

	return Layout{
		CDStride:  cdWords * 4,
		RDStride:  rdWords * 4,
		ResOffset: resWords * 4,
		OwnOffset: rdWords*4 - 4,
	}
}
