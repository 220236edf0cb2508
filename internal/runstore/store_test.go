package runstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/restylelabs/restyle/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, maxRuns int) *Store {
	t.Helper()
	cfg := config.RunStoreConfig{
		Path:    filepath.Join(t.TempDir(), "runs.db"),
		Mode:    "persistent",
		MaxRuns: maxRuns,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 100)

	err := s.BeginRun(ctx, Run{
		RunID:      "run-1",
		SourcePath: "/tmp/in.wav",
		Style:      "lofi hip hop",
		Policy:     "skip-and-continue",
		State:      "running",
	})
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec := SegmentRecord{RunID: "run-1", Index: i, State: "completed", DurationMS: int64(100 * i)}
		if err := s.RecordSegment(ctx, rec); err != nil {
			t.Fatalf("record segment %d: %v", i, err)
		}
	}
	if err := s.FinishRun(ctx, "run-1", "completed", "/tmp/out.wav"); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	records, err := s.ListRunSegments(ctx, "run-1")
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 segment records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Index != i {
			t.Fatalf("record %d has index %d, want index order", i, rec.Index)
		}
		if rec.State != "completed" {
			t.Fatalf("record %d state %q", i, rec.State)
		}
		if rec.CreatedAt.IsZero() {
			t.Fatalf("record %d lost its created_at timestamp", i)
		}
	}
}

func TestListRejectsMalformedTimestamp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 100)

	if err := s.BeginRun(ctx, Run{RunID: "run-1", State: "running"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(run_id, idx, state, duration_ms, artifact_path, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		"run-1", 0, "completed", 0, "", "", "yesterday-ish")
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	if _, err := s.ListRunSegments(ctx, "run-1"); err == nil {
		t.Fatal("expected an error for a corrupt created_at value")
	}
}

func TestListReturnsIndexOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 100)

	if err := s.BeginRun(ctx, Run{RunID: "run-1", State: "running"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	// insert out of index order
	for _, idx := range []int{2, 0, 1} {
		if err := s.RecordSegment(ctx, SegmentRecord{RunID: "run-1", Index: idx, State: "completed"}); err != nil {
			t.Fatalf("record segment %d: %v", idx, err)
		}
	}

	records, err := s.ListRunSegments(ctx, "run-1")
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	for i, rec := range records {
		if rec.Index != i {
			t.Fatalf("record %d has index %d", i, rec.Index)
		}
	}
}

func TestFailedSegmentKeepsError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 100)

	if err := s.BeginRun(ctx, Run{RunID: "run-1", State: "running"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	rec := SegmentRecord{RunID: "run-1", Index: 0, State: "failed", Error: "device fault"}
	if err := s.RecordSegment(ctx, rec); err != nil {
		t.Fatalf("record segment: %v", err)
	}

	records, err := s.ListRunSegments(ctx, "run-1")
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if len(records) != 1 || records[0].Error != "device fault" {
		t.Fatalf("error not preserved: %+v", records)
	}
}

func TestPruneKeepsNewestRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 2)

	// injectable clock so the prune ordering is deterministic
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	for _, id := range []string{"run-old", "run-mid", "run-new"} {
		if err := s.BeginRun(ctx, Run{RunID: id, State: "running"}); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
		if err := s.RecordSegment(ctx, SegmentRecord{RunID: id, Index: 0, State: "completed"}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	oldSegs, err := s.ListRunSegments(ctx, "run-old")
	if err != nil {
		t.Fatalf("list pruned run: %v", err)
	}
	if len(oldSegs) != 0 {
		t.Fatalf("expected cascading delete of pruned run's segments, got %d", len(oldSegs))
	}
	for _, id := range []string{"run-mid", "run-new"} {
		segs, err := s.ListRunSegments(ctx, id)
		if err != nil {
			t.Fatalf("list %s: %v", id, err)
		}
		if len(segs) != 1 {
			t.Fatalf("run %s lost its segments after prune", id)
		}
	}
}

func TestEphemeralModeIsNoOp(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.RunStoreConfig{Mode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open ephemeral store: %v", err)
	}
	defer s.Close()

	if err := s.BeginRun(ctx, Run{RunID: "run-1", State: "running"}); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := s.RecordSegment(ctx, SegmentRecord{RunID: "run-1", Index: 0}); err != nil {
		t.Fatalf("record segment: %v", err)
	}
	records, err := s.ListRunSegments(ctx, "run-1")
	if err != nil {
		t.Fatalf("list segments: %v", err)
	}
	if records != nil {
		t.Fatalf("ephemeral store returned records: %+v", records)
	}
}
