package gen

import (
	"context"
	"errors"
	"time"

	"github.com/restylelabs/restyle/internal/track"
)

// Request asks the model for one restyled segment. Melody is the original
// segment waveform used as conditioning; TargetDuration always equals the
// melody's own duration so reassembly reproduces the source length.
type Request struct {
	Index          int
	Prompt         string
	Melody         track.Track
	TargetDuration time.Duration
}

// Capabilities reports what the backing model runtime resolved to. Probed
// once per orchestrator lifetime, before any generation work.
type Capabilities struct {
	Device      string
	Accelerator bool
	ModelID     string
}

// DevicePreference selects the compute device for a run.
type DevicePreference string

const (
	DeviceAuto DevicePreference = "auto"
	DeviceCPU  DevicePreference = "cpu"
)

// ErrInvalidDuration indicates a request with a non-positive target
// duration. Such a request is never sent to the model.
var ErrInvalidDuration = errors.New("target duration must be positive")

// Generator abstracts a conditioned generative audio backend. Probe is
// called once when the orchestrator is built and must resolve the device;
// Generate is never invoked concurrently on the same Generator, because
// the loaded model and device context are one shared mutable resource.
type Generator interface {
	Probe(ctx context.Context) (Capabilities, error)
	Generate(ctx context.Context, req Request) (track.Track, error)
	Close() error
}
