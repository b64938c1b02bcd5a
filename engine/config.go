package engine

import (
	"github.com/usnistgov/eipring/descring"
)

// Default buffer pool geometry.
const (
	// RecordSize is the byte size of one context record: control words plus
	// the largest saved transform state, rounded to a bus-width multiple.
	RecordSize = 192

	defaultQueueEntries  = 128
	defaultMaxBatch      = 65535
	defaultDataWidth     = 2
	defaultRecordEntries = 64
	defaultBufferEntries = 256
	defaultBufferSize    = 2048
)

// Config contains Engine configuration.
type Config struct {
	// Rings is the number of descriptor ring pairs to operate.
	Rings int `json:"rings,omitempty"`

	// RingEntries is the number of slots in each descriptor ring.
	// It is adjusted to a power of two.
	RingEntries int `json:"ringEntries,omitempty"`

	// QueueEntries bounds each ring's software job queue.
	QueueEntries int `json:"queueEntries,omitempty"`

	// MaxBatch caps the interrupt coalescing threshold.
	MaxBatch int `json:"maxBatch,omitempty"`

	// DataWidth is the log2 data bus width in 32-bit words.
	DataWidth int `json:"dataWidth,omitempty"`

	// DisableOwnershipWord turns off the result slot ownership handshake.
	DisableOwnershipWord bool `json:"disableOwnershipWord,omitempty"`

	// AvoidDeviceRead derives the completed-job count from the remembered
	// coalescing threshold instead of reading the processed-count register,
	// trading a device read for reliance on software bookkeeping.
	AvoidDeviceRead bool `json:"avoidDeviceRead,omitempty"`

	// OwnershipPollCount bounds the ownership word spin-wait.
	OwnershipPollCount int `json:"ownershipPollCount,omitempty"`

	// RecordEntries is the number of context records in the shared pool.
	RecordEntries int `json:"recordEntries,omitempty"`

	// BufferEntries is the number of DMA bounce buffers in the shared pool.
	BufferEntries int `json:"bufferEntries,omitempty"`

	// BufferSize is the byte size of each DMA bounce buffer.
	BufferSize int `json:"bufferSize,omitempty"`
}

func (cfg *Config) applyDefaults() {
	if cfg.Rings <= 0 {
		cfg.Rings = 1
	}
	cfg.RingEntries = descring.AlignCapacity(cfg.RingEntries)
	if cfg.QueueEntries <= 0 {
		cfg.QueueEntries = defaultQueueEntries
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.DataWidth <= 0 {
		cfg.DataWidth = defaultDataWidth
	}
	if cfg.RecordEntries <= 0 {
		cfg.RecordEntries = defaultRecordEntries
	}
	if cfg.BufferEntries <= 0 {
		cfg.BufferEntries = defaultBufferEntries
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
}
