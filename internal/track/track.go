package track

import (
	"errors"
	"fmt"
	"time"
)

// Track is a decoded waveform: interleaved integer samples at a known
// sample rate and channel count. The pipeline treats every Track as
// read-only once constructed.
type Track struct {
	Samples    []int
	SampleRate int
	Channels   int
}

var (
	// ErrEmpty indicates a track with no audio payload.
	ErrEmpty = errors.New("track has no samples")
	// ErrMalformed indicates a track whose shape breaks the decoded-input
	// preconditions (unknown rate, unknown channel count, ragged frames).
	ErrMalformed = errors.New("track is malformed")
)

// Frames returns the number of sample frames (samples per channel).
func (t Track) Frames() int {
	if t.Channels <= 0 {
		return 0
	}
	return len(t.Samples) / t.Channels
}

// Duration returns the playback length of the track.
func (t Track) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(t.Frames()) * time.Second / time.Duration(t.SampleRate)
}

// Validate checks the preconditions the pipeline assumes hold on entry:
// a non-empty payload, positive sample rate and channel count, and whole
// frames. Acquisition and decoding happen upstream, so a violation here is
// a caller error, never something the pipeline repairs.
func (t Track) Validate() error {
	if t.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrMalformed, t.SampleRate)
	}
	if t.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrMalformed, t.Channels)
	}
	if len(t.Samples) == 0 {
		return ErrEmpty
	}
	if len(t.Samples)%t.Channels != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d channels", ErrMalformed, len(t.Samples), t.Channels)
	}
	return nil
}
