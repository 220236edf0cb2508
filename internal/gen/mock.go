package gen

import (
	"context"
	"time"

	"github.com/restylelabs/restyle/internal/track"
)

type mockGenerator struct{}

// NewMockGenerator returns a deterministic in-process backend used for
// tests and dry runs. It renders the melody back at reduced gain, at the
// melody's own sample rate, with exactly the requested duration.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Probe(ctx context.Context) (Capabilities, error) {
	select {
	case <-ctx.Done():
		return Capabilities{}, ctx.Err()
	default:
	}
	return Capabilities{Device: "cpu", Accelerator: false, ModelID: "mock-melody"}, nil
}

func (m *mockGenerator) Generate(ctx context.Context, req Request) (track.Track, error) {
	if req.TargetDuration <= 0 {
		return track.Track{}, ErrInvalidDuration
	}
	select {
	case <-ctx.Done():
		return track.Track{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}

	out := make([]int, len(req.Melody.Samples))
	for i, s := range req.Melody.Samples {
		out[i] = s * 7 / 8
	}
	return track.Track{
		Samples:    out,
		SampleRate: req.Melody.SampleRate,
		Channels:   req.Melody.Channels,
	}, nil
}

func (m *mockGenerator) Close() error { return nil }
