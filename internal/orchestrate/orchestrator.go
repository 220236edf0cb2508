package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/restylelabs/restyle/internal/gen"
	"github.com/restylelabs/restyle/internal/track"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Result pairs one request index with either a generated waveform or the
// error that prevented one. A result is never mutated after it is recorded.
type Result struct {
	Index   int
	Audio   track.Track
	Err     error
	Elapsed time.Duration
}

// OK reports whether the segment generated successfully.
func (r Result) OK() bool { return r.Err == nil }

// Orchestrator owns the device/model resource for a run. The capability
// probe happens once at construction; every segment reuses the resolved
// device, because model initialization dominates per-call cost.
type Orchestrator struct {
	gens []gen.Generator
	caps []gen.Capabilities
	log  *slog.Logger

	tracer    trace.Tracer
	durations metric.Float64Histogram
	segments  metric.Int64Counter
}

// New probes every supplied generator and fails if any device cannot be
// resolved; the fallback to CPU is a typed decision made by the backend,
// never a swallowed fault. One generator means strictly sequential
// generation; several mean disjoint index ranges, one per device context.
func New(ctx context.Context, log *slog.Logger, gens ...gen.Generator) (*Orchestrator, error) {
	if len(gens) == 0 {
		return nil, errors.New("at least one generator is required")
	}

	caps := make([]gen.Capabilities, len(gens))
	for i, g := range gens {
		c, err := g.Probe(ctx)
		if err != nil {
			return nil, fmt.Errorf("probe generator %d: %w", i, err)
		}
		caps[i] = c
		log.Info("device resolved",
			slog.String("device", c.Device),
			slog.Bool("accelerator", c.Accelerator),
			slog.String("model", c.ModelID))
	}

	meter := otel.Meter("restyle/orchestrate")
	durations, err := meter.Float64Histogram("restyle.segment.duration",
		metric.WithDescription("Wall time spent generating one segment"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	segments, err := meter.Int64Counter("restyle.segments.total",
		metric.WithDescription("Segments processed, by outcome"))
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		gens:      gens,
		caps:      caps,
		log:       log.With(slog.String("component", "orchestrator")),
		tracer:    otel.Tracer("restyle/orchestrate"),
		durations: durations,
		segments:  segments,
	}, nil
}

// Capabilities returns the resolved device capabilities, one per generator.
func (o *Orchestrator) Capabilities() []gen.Capabilities {
	return append([]gen.Capabilities(nil), o.caps...)
}

// Run executes every request and returns one result per request, in request
// order regardless of how many device contexts are in play or in which
// order they finish. One failed segment never stops the others; failures
// are recorded in place and the run continues. Cancellation is honored
// between segments: requests not yet started fail with the context error
// while already-recorded results stay valid.
func (o *Orchestrator) Run(ctx context.Context, reqs []gen.Request) []Result {
	results := make([]Result, len(reqs))
	if len(o.gens) == 1 {
		o.runRange(ctx, 0, reqs, 0, len(reqs), results)
		return results
	}

	// Disjoint contiguous ranges, one per device context. Each range writes
	// only its own slots, so global ordering falls out of the indexing.
	var wg sync.WaitGroup
	per := (len(reqs) + len(o.gens) - 1) / len(o.gens)
	for i := range o.gens {
		lo := i * per
		if lo >= len(reqs) {
			break
		}
		hi := lo + per
		if hi > len(reqs) {
			hi = len(reqs)
		}
		wg.Add(1)
		go func(worker, lo, hi int) {
			defer wg.Done()
			o.runRange(ctx, worker, reqs, lo, hi, results)
		}(i, lo, hi)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runRange(ctx context.Context, worker int, reqs []gen.Request, lo, hi int, results []Result) {
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			for ; i < hi; i++ {
				results[i] = Result{Index: reqs[i].Index, Err: err}
			}
			return
		}
		results[i] = o.generateOne(ctx, worker, reqs[i])
	}
}

func (o *Orchestrator) generateOne(ctx context.Context, worker int, req gen.Request) Result {
	caps := o.caps[worker]
	ctx, span := o.tracer.Start(ctx, "generate_segment", trace.WithAttributes(
		attribute.Int("segment.index", req.Index),
		attribute.String("device", caps.Device),
	))
	defer span.End()

	start := time.Now()
	audio, err := o.gens[worker].Generate(ctx, req)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.durations.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	o.segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	if err != nil {
		span.RecordError(err)
		o.log.Warn("segment generation failed",
			slog.Int("index", req.Index),
			slog.String("error", err.Error()))
		return Result{Index: req.Index, Err: fmt.Errorf("generate segment %d: %w", req.Index, err), Elapsed: elapsed}
	}

	o.log.Info("segment generated",
		slog.Int("index", req.Index),
		slog.Duration("elapsed", elapsed),
		slog.Duration("audio", audio.Duration()))
	return Result{Index: req.Index, Audio: audio, Elapsed: elapsed}
}

// Close releases every device/model handle.
func (o *Orchestrator) Close() error {
	var errs []error
	for _, g := range o.gens {
		if err := g.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
