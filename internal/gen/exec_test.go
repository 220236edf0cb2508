package gen

import (
	"context"
	"testing"
	"time"

	"github.com/restylelabs/restyle/internal/config"
)

func TestNewExecGeneratorRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecGenerator(config.GeneratorConfig{Command: "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecGenerateTimesOutOnHungRunner(t *testing.T) {
	g, err := NewExecGenerator(config.GeneratorConfig{
		Command:        "sleep 30",
		TimeoutSeconds: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	start := time.Now()
	_, err = g.Generate(context.Background(), Request{
		Prompt:         "lofi hip hop",
		Melody:         testMelody(),
		TargetDuration: time.Second,
	})
	if err == nil {
		t.Fatal("expected the hung runner to fail")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("generate took %s, want the 1s per-call bound", elapsed)
	}
}
