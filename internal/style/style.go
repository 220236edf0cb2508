package style

import (
	"errors"
	"strings"

	"github.com/restylelabs/restyle/internal/gen"
	"github.com/restylelabs/restyle/internal/segment"
	"github.com/restylelabs/restyle/internal/track"
)

// Descriptor is the user-supplied style for one run, shared read-only by
// every segment.
type Descriptor struct {
	Text           string
	PreserveMelody bool
}

// ErrEmptyStyle indicates a descriptor with no style text.
var ErrEmptyStyle = errors.New("style text must not be empty")

// The retention clause is conditioning input to the model, not prompt
// decoration: without it the model drifts away from the source melody.
const melodyInstruction = "keep original melody and chord progression"

// Validate rejects unusable descriptors before any generation work begins.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Text) == "" {
		return ErrEmptyStyle
	}
	return nil
}

// Condition packages one segment with the run's style into a generation
// request. Pure: no I/O, and the same inputs always produce an identical
// request. The target duration is copied from the segment, never from a
// run-wide constant, so reassembly reproduces the source length.
func Condition(seg segment.Segment, desc Descriptor) gen.Request {
	prompt := desc.Text
	if desc.PreserveMelody {
		prompt += ", " + melodyInstruction
	}
	return gen.Request{
		Index:  seg.Index,
		Prompt: prompt,
		Melody: track.Track{
			Samples:    seg.Samples,
			SampleRate: seg.SampleRate,
			Channels:   seg.Channels,
		},
		TargetDuration: seg.Duration(),
	}
}
