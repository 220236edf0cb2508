package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/restylelabs/restyle/internal/track"
)

// Segment is one contiguous window of the source track. Segments produced
// by Split are non-overlapping, strictly index-ordered, and concatenate
// back into the source exactly. Samples alias the source buffer; segments
// are never written to.
type Segment struct {
	Index      int
	Start      int // frame offset into the source
	Samples    []int
	SampleRate int
	Channels   int
}

// ErrInvalidWindow indicates a non-positive window length.
var ErrInvalidWindow = errors.New("window length must be positive")

// Frames returns the number of sample frames in the segment.
func (s Segment) Frames() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// Duration returns the playback length of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// Split cuts src into fixed-length windows. The window count is the floor
// of total duration over window length; the remainder becomes a final,
// shorter segment. No window is dropped for being short and no zero-length
// window is ever produced. The same inputs always yield the same segments.
func Split(src track.Track, window time.Duration) ([]Segment, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidWindow, window)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	windowFrames := int(int64(window) * int64(src.SampleRate) / int64(time.Second))
	if windowFrames <= 0 {
		return nil, fmt.Errorf("%w: %s is shorter than one frame at %d Hz", ErrInvalidWindow, window, src.SampleRate)
	}

	total := src.Frames()
	segs := make([]Segment, 0, total/windowFrames+1)
	for start := 0; start < total; start += windowFrames {
		end := start + windowFrames
		if end > total {
			end = total
		}
		segs = append(segs, Segment{
			Index:      len(segs),
			Start:      start,
			Samples:    src.Samples[start*src.Channels : end*src.Channels],
			SampleRate: src.SampleRate,
			Channels:   src.Channels,
		})
	}
	return segs, nil
}
