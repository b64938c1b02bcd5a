package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/usnistgov/eipring/descring"
)

// Queue admission errors.
var (
	// ErrQueueFull indicates the ring's software queue rejected a job.
	ErrQueueFull = errors.New("job queue full")

	// ErrBacklogged indicates the queue was full but the job was retained on
	// the backlog; it will run, and its ProgressNotifier (if any) fires when
	// its descriptors enter the ring.
	ErrBacklogged = errors.New("job backlogged")
)

// ErrAuthFailed indicates the engine reported an authentication failure for a job.
var ErrAuthFailed = errors.New("authentication failed")

// DescriptorError is a per-job error code reported in result metadata.
type DescriptorError struct {
	Code  uint32
	Fatal bool
}

func (e DescriptorError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("result descriptor error %#x", e.Code)
	}
	return fmt.Sprintf("invalid result %#x", e.Code)
}

// ResultError translates a result descriptor's packed error code into the
// job-level outcome.
func (r *Ring) ResultError(rd descring.ResultDesc) error {
	code := rd.ErrorCode()
	switch {
	case code == 0:
		return nil
	case code&descring.ResultErrFatalMask != 0:
		logger.Error("result descriptor error",
			zap.Int("ring", r.index),
			zap.Uint32("errorCode", code),
		)
		return DescriptorError{Code: code, Fatal: true}
	case code == descring.ResultErrAuthFailed:
		return ErrAuthFailed
	default:
		return DescriptorError{Code: code}
	}
}
