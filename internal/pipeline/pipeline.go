package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/restylelabs/restyle/internal/bus"
	"github.com/restylelabs/restyle/internal/gen"
	"github.com/restylelabs/restyle/internal/orchestrate"
	"github.com/restylelabs/restyle/internal/protocol"
	"github.com/restylelabs/restyle/internal/reassemble"
	"github.com/restylelabs/restyle/internal/runstore"
	"github.com/restylelabs/restyle/internal/segment"
	"github.com/restylelabs/restyle/internal/style"
	"github.com/restylelabs/restyle/internal/track"
)

// State names one controller lifecycle position. Completed,
// PartiallyFailed and Failed are terminal.
type State string

const (
	StateIdle            State = "idle"
	StateSegmented       State = "segmented"
	StateGenerating      State = "generating"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
	StateFailed          State = "failed"
)

// Policy decides what a run does when individual segments fail.
type Policy string

const (
	// PolicyAbort surfaces a PipelineError and writes no output track.
	PolicyAbort Policy = "abort"
	// PolicySkip drops failed segments, closes the gaps, and reports which
	// indices were dropped.
	PolicySkip Policy = "skip-and-continue"
)

// ParsePolicy maps the configuration string onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAbort, PolicySkip:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Options configures one pipeline run.
type Options struct {
	Window     time.Duration
	Style      style.Descriptor
	Policy     Policy
	OutputDir  string
	OutputName string
	SourcePath string // recorded in the run store, informational only
}

// Outcome is what a finished run hands back. SegmentPaths and Dropped stay
// meaningful even when no output track was written, so partial progress is
// always retrievable.
type Outcome struct {
	State          State
	Output         track.Track
	OutputPath     string
	SegmentPaths   []string
	Dropped        []int
	SourceDuration time.Duration
	OutputDuration time.Duration
}

// Controller drives segmentation, generation and reassembly for exactly
// one run. It is not reusable; a terminal controller must be replaced, not
// reset.
type Controller struct {
	opts  Options
	orch  *orchestrate.Orchestrator
	store *runstore.Store // optional
	bus   *bus.Client     // optional
	log   *slog.Logger

	runID string

	mu    sync.Mutex
	state State
	used  bool
}

// NewController validates the options and binds the collaborators.
// Parameter errors surface here, before any generation work.
func NewController(opts Options, orch *orchestrate.Orchestrator, store *runstore.Store, busClient *bus.Client, log *slog.Logger) (*Controller, error) {
	if opts.Window <= 0 {
		return nil, fmt.Errorf("%w: got %s", segment.ErrInvalidWindow, opts.Window)
	}
	if err := opts.Style.Validate(); err != nil {
		return nil, err
	}
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory must not be empty")
	}
	if opts.OutputName == "" {
		opts.OutputName = "restyled.wav"
	}
	return &Controller{
		opts:  opts,
		orch:  orch,
		store: store,
		bus:   busClient,
		log:   log.With(slog.String("component", "pipeline")),
		runID: uuid.NewString(),
		state: StateIdle,
	}, nil
}

// RunID identifies this run in the store and on the bus.
func (c *Controller) RunID() string { return c.runID }

// State returns the controller's current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the whole pipeline over source. Source preconditions and
// window errors fail the run before any generation starts. Per-segment
// failures are resolved by the configured policy once all segments have
// been attempted.
func (c *Controller) Run(ctx context.Context, source track.Track) (*Outcome, error) {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return nil, ErrControllerUsed
	}
	c.used = true
	c.mu.Unlock()

	c.beginRun(ctx)

	segs, err := segment.Split(source, c.opts.Window)
	if err != nil {
		c.finishRun(ctx, StateFailed, "", nil, 0)
		return nil, err
	}
	c.setState(StateSegmented)
	c.log.Info("source segmented",
		slog.String("run_id", c.runID),
		slog.Int("segments", len(segs)),
		slog.Duration("window", c.opts.Window),
		slog.Duration("source", source.Duration()))

	reqs := make([]gen.Request, len(segs))
	for i, s := range segs {
		reqs[i] = style.Condition(s, c.opts.Style)
	}

	c.setState(StateGenerating)
	results := c.orch.Run(ctx, reqs)

	writer := reassemble.NewWriter(c.opts.OutputDir, c.log)
	var successes []orchestrate.Result
	var failed []int
	var causes []error
	var segPaths []string
	var keptSource time.Duration

	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r.Index)
			causes = append(causes, r.Err)
			c.recordSegment(ctx, r, "failed", "")
			continue
		}
		path, werr := writer.WriteSegment(r.Index, r.Audio)
		if werr != nil {
			failed = append(failed, r.Index)
			causes = append(causes, werr)
			r.Err = werr
			c.recordSegment(ctx, r, "failed", "")
			continue
		}
		segPaths = append(segPaths, path)
		successes = append(successes, r)
		keptSource += segs[r.Index].Duration()
		c.recordSegment(ctx, r, "completed", path)
	}

	outcome := &Outcome{
		SegmentPaths:   segPaths,
		Dropped:        failed,
		SourceDuration: source.Duration(),
	}

	// A cancelled run keeps its completed artifacts but never writes a
	// final track.
	if ctxErr := ctx.Err(); ctxErr != nil {
		outcome.State = StatePartiallyFailed
		c.finishRun(ctx, StatePartiallyFailed, "", failed, len(segs))
		return outcome, ctxErr
	}

	if len(failed) > 0 && (c.opts.Policy == PolicyAbort || len(successes) == 0) {
		outcome.State = StatePartiallyFailed
		c.finishRun(ctx, StatePartiallyFailed, "", failed, len(segs))
		return outcome, &PipelineError{FailedIndices: failed, Causes: causes}
	}

	out, err := reassemble.Concat(successes)
	if err != nil {
		outcome.State = StateFailed
		c.finishRun(ctx, StateFailed, "", failed, len(segs))
		return outcome, err
	}

	if err := checkDuration(out, keptSource); err != nil {
		outcome.State = StateFailed
		c.finishRun(ctx, StateFailed, "", failed, len(segs))
		return outcome, err
	}

	outputPath, err := writer.WriteTrack(c.opts.OutputName, out)
	if err != nil {
		outcome.State = StateFailed
		c.finishRun(ctx, StateFailed, "", failed, len(segs))
		return outcome, err
	}

	final := StateCompleted
	if len(failed) > 0 {
		final = StatePartiallyFailed
		c.log.Warn("segments dropped from output",
			slog.String("run_id", c.runID),
			slog.Any("dropped", failed))
	}

	outcome.State = final
	outcome.Output = out
	outcome.OutputPath = outputPath
	outcome.OutputDuration = out.Duration()
	c.finishRun(ctx, final, outputPath, failed, len(segs))
	return outcome, nil
}

// checkDuration enforces the reassembly invariant: the output must match
// the kept source material to within one sample of rounding tolerance.
func checkDuration(out track.Track, kept time.Duration) error {
	if out.SampleRate <= 0 {
		return fmt.Errorf("%w: output has no sample rate", ErrDurationMismatch)
	}
	tolerance := time.Second / time.Duration(out.SampleRate)
	diff := out.Duration() - kept
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return fmt.Errorf("%w: got %s, want %s (tolerance %s)", ErrDurationMismatch, out.Duration(), kept, tolerance)
	}
	return nil
}

func (c *Controller) beginRun(ctx context.Context) {
	if c.store != nil {
		err := c.store.BeginRun(ctx, runstore.Run{
			RunID:      c.runID,
			SourcePath: c.opts.SourcePath,
			Style:      c.opts.Style.Text,
			Policy:     string(c.opts.Policy),
			State:      "running",
		})
		if err != nil {
			c.log.Warn("failed to record run start", slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		c.bus.PublishRun(protocol.SubjectRunStarted, protocol.RunEvent{
			RunID:     c.runID,
			State:     "running",
			Timestamp: time.Now().UTC(),
		})
	}
}

func (c *Controller) recordSegment(ctx context.Context, r orchestrate.Result, state, path string) {
	ctx = context.WithoutCancel(ctx)
	if c.store != nil {
		rec := runstore.SegmentRecord{
			RunID:        c.runID,
			Index:        r.Index,
			State:        state,
			DurationMS:   r.Elapsed.Milliseconds(),
			ArtifactPath: path,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
		if err := c.store.RecordSegment(ctx, rec); err != nil {
			c.log.Warn("failed to record segment", slog.Int("index", r.Index), slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		subject := protocol.SubjectSegmentCompleted
		evt := protocol.SegmentEvent{
			RunID:      c.runID,
			Index:      r.Index,
			State:      state,
			DurationMS: r.Elapsed.Milliseconds(),
			Timestamp:  time.Now().UTC(),
		}
		if r.Err != nil {
			subject = protocol.SubjectSegmentFailed
			evt.Error = r.Err.Error()
		}
		c.bus.PublishSegment(subject, evt)
	}
}

func (c *Controller) finishRun(ctx context.Context, final State, outputPath string, dropped []int, segments int) {
	c.setState(final)
	// the terminal record must land even when the run context is cancelled
	ctx = context.WithoutCancel(ctx)
	if c.store != nil {
		if err := c.store.FinishRun(ctx, c.runID, string(final), outputPath); err != nil {
			c.log.Warn("failed to record run finish", slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		c.bus.PublishRun(protocol.SubjectRunFinished, protocol.RunEvent{
			RunID:     c.runID,
			State:     string(final),
			Segments:  segments,
			Dropped:   dropped,
			Timestamp: time.Now().UTC(),
		})
	}
}
