package gen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/restylelabs/restyle/internal/config"
	"github.com/restylelabs/restyle/internal/track"
)

func testMelody() track.Track {
	return track.Track{Samples: []int{100, -100, 200, -200}, SampleRate: 8000, Channels: 1}
}

func TestHTTPGenerateRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/generate":
			json.NewEncoder(w).Encode(submitResponse{TaskID: "task-1"})
		case strings.HasPrefix(r.URL.Path, "/v1/tasks/"):
			json.NewEncoder(w).Encode(taskResponse{
				Status:     "succeeded",
				PCMBase64:  encodePCM16([]int{10, -10}),
				SampleRate: 8000,
				Channels:   1,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	g := NewHTTPGenerator(config.GeneratorConfig{
		Endpoint:       server.URL,
		Model:          "musicgen-melody",
		Device:         "auto",
		PollIntervalMS: 10,
		TimeoutSeconds: 5,
	})
	defer g.Close()

	out, err := g.Generate(context.Background(), Request{
		Prompt:         "lofi hip hop",
		Melody:         testMelody(),
		TargetDuration: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Samples) != 2 || out.Samples[0] != 10 || out.Samples[1] != -10 {
		t.Fatalf("unexpected samples: %v", out.Samples)
	}
	if out.SampleRate != 8000 || out.Channels != 1 {
		t.Fatalf("unexpected format: %d Hz/%dch", out.SampleRate, out.Channels)
	}
}

func TestHTTPGenerateTimesOutOnStuckTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/generate":
			json.NewEncoder(w).Encode(submitResponse{TaskID: "task-1"})
		case strings.HasPrefix(r.URL.Path, "/v1/tasks/"):
			// never reaches a terminal status
			json.NewEncoder(w).Encode(taskResponse{Status: "running"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	g := NewHTTPGenerator(config.GeneratorConfig{
		Endpoint:       server.URL,
		Model:          "musicgen-melody",
		Device:         "auto",
		PollIntervalMS: 10,
		TimeoutSeconds: 1,
	})
	defer g.Close()

	start := time.Now()
	_, err := g.Generate(context.Background(), Request{
		Prompt:         "lofi hip hop",
		Melody:         testMelody(),
		TargetDuration: time.Second,
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("generate took %s, want the 1s per-call bound", elapsed)
	}
}

func TestHTTPGenerateReportsFailedTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/generate":
			json.NewEncoder(w).Encode(submitResponse{TaskID: "task-1"})
		case strings.HasPrefix(r.URL.Path, "/v1/tasks/"):
			json.NewEncoder(w).Encode(taskResponse{Status: "failed", Error: "out of memory"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	g := NewHTTPGenerator(config.GeneratorConfig{
		Endpoint:       server.URL,
		PollIntervalMS: 10,
		TimeoutSeconds: 5,
	})
	defer g.Close()

	_, err := g.Generate(context.Background(), Request{
		Prompt:         "lofi hip hop",
		Melody:         testMelody(),
		TargetDuration: time.Second,
	})
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Fatalf("expected task failure to surface, got %v", err)
	}
}
