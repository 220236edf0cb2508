package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrControllerUsed reports a second Run on a terminal controller.
	// Controllers are single-use; construct a new one per run.
	ErrControllerUsed = errors.New("pipeline controller already ran")
	// ErrDurationMismatch reports an output track whose duration deviates
	// from the kept source material by more than one sample.
	ErrDurationMismatch = errors.New("output duration deviates from source")
)

// PipelineError is the aggregate terminal failure of a run under the abort
// policy: which segment indices failed, and why.
type PipelineError struct {
	FailedIndices []int
	Causes        []error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("generation failed for %d segment(s), indices %v", len(e.FailedIndices), e.FailedIndices)
}

func (e *PipelineError) Unwrap() []error { return e.Causes }
