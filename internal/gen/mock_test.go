package gen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/restylelabs/restyle/internal/config"
	"github.com/restylelabs/restyle/internal/track"
)

func TestMockProbe(t *testing.T) {
	g := NewMockGenerator()
	defer g.Close()

	caps, err := g.Probe(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps.Device != "cpu" || caps.Accelerator {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
	if caps.ModelID == "" {
		t.Fatal("probe should report a model id")
	}
}

func TestMockGenerateMatchesMelodyShape(t *testing.T) {
	g := NewMockGenerator()
	defer g.Close()

	melody := track.Track{Samples: []int{800, -800, 400, -400}, SampleRate: 16000, Channels: 2}
	out, err := g.Generate(context.Background(), Request{
		Index:          0,
		Prompt:         "lofi hip hop",
		Melody:         melody,
		TargetDuration: melody.Duration(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SampleRate != melody.SampleRate || out.Channels != melody.Channels {
		t.Fatalf("output format %d Hz/%dch, want melody format", out.SampleRate, out.Channels)
	}
	if len(out.Samples) != len(melody.Samples) {
		t.Fatalf("output has %d samples, want %d", len(out.Samples), len(melody.Samples))
	}
	for i, s := range out.Samples {
		if want := melody.Samples[i] * 7 / 8; s != want {
			t.Fatalf("sample %d is %d, want %d", i, s, want)
		}
	}
}

func TestMockGenerateRejectsNonPositiveDuration(t *testing.T) {
	g := NewMockGenerator()
	defer g.Close()

	_, err := g.Generate(context.Background(), Request{
		Melody: track.Track{Samples: []int{1}, SampleRate: 8000, Channels: 1},
	})
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestMockGenerateHonorsCancellation(t *testing.T) {
	g := NewMockGenerator()
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, Request{
		Melody:         track.Track{Samples: []int{1}, SampleRate: 8000, Channels: 1},
		TargetDuration: time.Second,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFromConfigUnknownMode(t *testing.T) {
	if _, err := FromConfig(config.GeneratorConfig{Mode: "telepathy"}); err == nil {
		t.Fatal("expected error for unknown backend mode")
	}
}
