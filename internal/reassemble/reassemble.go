package reassemble

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/restylelabs/restyle/internal/orchestrate"
	"github.com/restylelabs/restyle/internal/track"
)

var (
	// ErrNoSegments indicates there is nothing to concatenate.
	ErrNoSegments = errors.New("no segments to reassemble")
	// ErrFormatMismatch indicates segments that disagree on sample rate or
	// channel count and therefore cannot form one continuous track.
	ErrFormatMismatch = errors.New("segment formats do not match")
)

// Concat joins successful results into one continuous track, in segment
// index order. The caller decides the skip policy; only successful results
// may be passed in, and they must already be index-sorted, which they are
// when taken from an orchestrator run.
func Concat(results []orchestrate.Result) (track.Track, error) {
	if len(results) == 0 {
		return track.Track{}, ErrNoSegments
	}

	first := results[0].Audio
	total := 0
	prev := -1
	for _, r := range results {
		if r.Err != nil {
			return track.Track{}, fmt.Errorf("segment %d carries an error and cannot be reassembled: %w", r.Index, r.Err)
		}
		if r.Index <= prev {
			return track.Track{}, fmt.Errorf("segments out of order: index %d after %d", r.Index, prev)
		}
		prev = r.Index
		if r.Audio.SampleRate != first.SampleRate || r.Audio.Channels != first.Channels {
			return track.Track{}, fmt.Errorf("%w: segment %d is %d Hz/%dch, expected %d Hz/%dch",
				ErrFormatMismatch, r.Index, r.Audio.SampleRate, r.Audio.Channels, first.SampleRate, first.Channels)
		}
		total += len(r.Audio.Samples)
	}

	samples := make([]int, 0, total)
	for _, r := range results {
		samples = append(samples, r.Audio.Samples...)
	}
	return track.Track{Samples: samples, SampleRate: first.SampleRate, Channels: first.Channels}, nil
}

// Writer persists per-segment artifacts and the final track under one
// directory. File names encode the segment index so external tools can
// audit or re-stitch the run without the reassembler.
type Writer struct {
	dir string
	log *slog.Logger
}

func NewWriter(dir string, log *slog.Logger) *Writer {
	return &Writer{dir: dir, log: log.With(slog.String("component", "reassembler"))}
}

// SegmentPath returns the artifact path for one segment index.
func (w *Writer) SegmentPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("part_%03d.wav", index))
}

// WriteSegment persists one generated segment and returns its path.
func (w *Writer) WriteSegment(index int, t track.Track) (string, error) {
	path := w.SegmentPath(index)
	if err := track.WriteWAVFile(path, t); err != nil {
		return "", fmt.Errorf("write segment %d: %w", index, err)
	}
	w.log.Debug("segment written", slog.Int("index", index), slog.String("path", path))
	return path, nil
}

// WriteTrack persists the final reassembled track under name.
func (w *Writer) WriteTrack(name string, t track.Track) (string, error) {
	path := filepath.Join(w.dir, name)
	if err := track.WriteWAVFile(path, t); err != nil {
		return "", fmt.Errorf("write output track: %w", err)
	}
	w.log.Info("output track written",
		slog.String("path", path),
		slog.Duration("duration", t.Duration()))
	return path, nil
}
