package reassemble

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/restylelabs/restyle/internal/orchestrate"
	"github.com/restylelabs/restyle/internal/track"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func result(index int, samples []int) orchestrate.Result {
	return orchestrate.Result{
		Index: index,
		Audio: track.Track{Samples: samples, SampleRate: 8000, Channels: 1},
	}
}

func TestConcatJoinsInIndexOrder(t *testing.T) {
	results := []orchestrate.Result{
		result(0, []int{1, 2}),
		result(1, []int{3, 4}),
		result(2, []int{5}),
	}
	out, err := Concat(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 3, 4, 5}
	if len(out.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out.Samples), len(want))
	}
	for i := range want {
		if out.Samples[i] != want[i] {
			t.Fatalf("sample %d is %d, want %d", i, out.Samples[i], want[i])
		}
	}
	if out.SampleRate != 8000 || out.Channels != 1 {
		t.Fatalf("output format %d Hz/%dch", out.SampleRate, out.Channels)
	}
}

func TestConcatAllowsIndexGaps(t *testing.T) {
	// a skipped segment leaves a gap, not a reorder
	results := []orchestrate.Result{
		result(0, []int{1}),
		result(2, []int{3}),
	}
	out, err := Concat(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(out.Samples))
	}
}

func TestConcatRejectsOutOfOrder(t *testing.T) {
	results := []orchestrate.Result{
		result(1, []int{1}),
		result(0, []int{2}),
	}
	if _, err := Concat(results); err == nil {
		t.Fatal("expected error for out-of-order segments")
	}
}

func TestConcatRejectsFailedResult(t *testing.T) {
	results := []orchestrate.Result{
		result(0, []int{1}),
		{Index: 1, Err: errors.New("device fault")},
	}
	if _, err := Concat(results); err == nil {
		t.Fatal("expected error when a failed result is passed in")
	}
}

func TestConcatRejectsFormatMismatch(t *testing.T) {
	results := []orchestrate.Result{
		result(0, []int{1}),
		{Index: 1, Audio: track.Track{Samples: []int{2}, SampleRate: 16000, Channels: 1}},
	}
	if _, err := Concat(results); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
}

func TestConcatEmpty(t *testing.T) {
	if _, err := Concat(nil); !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

func TestWriterSegmentPaths(t *testing.T) {
	w := NewWriter("/tmp/out", newLogger())
	if got := w.SegmentPath(7); got != filepath.Join("/tmp/out", "part_007.wav") {
		t.Fatalf("segment path %q", got)
	}
	if got := w.SegmentPath(123); got != filepath.Join("/tmp/out", "part_123.wav") {
		t.Fatalf("segment path %q", got)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, newLogger())

	seg := track.Track{Samples: []int{10, -10, 20, -20}, SampleRate: 8000, Channels: 1}
	path, err := w.WriteSegment(2, seg)
	if err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if path != w.SegmentPath(2) {
		t.Fatalf("segment written to %q, want %q", path, w.SegmentPath(2))
	}
	got, err := track.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(got.Samples) != len(seg.Samples) {
		t.Fatalf("read %d samples, want %d", len(got.Samples), len(seg.Samples))
	}

	outPath, err := w.WriteTrack("final.wav", seg)
	if err != nil {
		t.Fatalf("write track: %v", err)
	}
	if outPath != filepath.Join(dir, "final.wav") {
		t.Fatalf("track written to %q", outPath)
	}
}
