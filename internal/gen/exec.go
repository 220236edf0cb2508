package gen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/restylelabs/restyle/internal/config"
	"github.com/restylelabs/restyle/internal/track"
)

// execGenerator shells out to a model runner process. The runner loads the
// model once per invocation, so this backend trades throughput for
// isolation; it exists so any MusicGen-style script can be plugged in
// without linking it into this binary.
type execGenerator struct {
	cmd []string
	cfg config.GeneratorConfig
	mu  sync.Mutex
}

type execProbeResult struct {
	Device      string `json:"device"`
	Accelerator bool   `json:"accelerator"`
	Model       string `json:"model"`
}

type execGenerateResult struct {
	AudioPath  string `json:"audio_path"`
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func NewExecGenerator(cfg config.GeneratorConfig) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse generator command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("generator command is empty")
	}
	return &execGenerator{cmd: args, cfg: cfg}, nil
}

func (g *execGenerator) Probe(ctx context.Context) (Capabilities, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	args := append(g.runnerArgs(), "--probe")
	command := exec.CommandContext(ctx, g.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Capabilities{}, fmt.Errorf("probe command failed: %w: %s", err, stderr.String())
	}

	var resp execProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Capabilities{}, fmt.Errorf("decode probe response: %w", err)
	}
	caps := Capabilities{Device: resp.Device, Accelerator: resp.Accelerator, ModelID: resp.Model}
	if DevicePreference(g.cfg.Device) == DeviceCPU {
		caps.Device = "cpu"
		caps.Accelerator = false
	}
	return caps, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request) (track.Track, error) {
	if req.TargetDuration <= 0 {
		return track.Track{}, ErrInvalidDuration
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Bound each call so one hung runner fails its own segment instead of
	// stalling the run.
	if g.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	melodyPath := filepath.Join(os.TempDir(), fmt.Sprintf("restyle_melody_%d_%d.wav", os.Getpid(), req.Index))
	if err := track.WriteWAVFile(melodyPath, req.Melody); err != nil {
		return track.Track{}, fmt.Errorf("write melody wav: %w", err)
	}
	defer os.Remove(melodyPath)

	args := g.runnerArgs()
	args = append(args,
		"--melody", melodyPath,
		"--prompt", req.Prompt,
		"--duration", strconv.FormatFloat(req.TargetDuration.Seconds(), 'f', 3, 64),
	)

	command := exec.CommandContext(ctx, g.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return track.Track{}, fmt.Errorf("generator command failed: %w: %s", err, stderr.String())
	}

	var resp execGenerateResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return track.Track{}, fmt.Errorf("decode generator response: %w", err)
	}
	return g.decodeResult(resp)
}

// decodeResult accepts either a WAV written next to a shared volume or raw
// PCM16 inlined on stdout, whichever the runner produced.
func (g *execGenerator) decodeResult(resp execGenerateResult) (track.Track, error) {
	if resp.AudioPath != "" {
		out, err := track.ReadWAVFile(resp.AudioPath)
		if err != nil {
			return track.Track{}, fmt.Errorf("read generated wav: %w", err)
		}
		return out, nil
	}

	if resp.PCMBase64 == "" {
		return track.Track{}, fmt.Errorf("generator returned no audio")
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return track.Track{}, fmt.Errorf("decode pcm payload: %w", err)
	}
	if len(pcm)%2 != 0 {
		return track.Track{}, fmt.Errorf("pcm payload not aligned")
	}
	sampleRate := resp.SampleRate
	if sampleRate <= 0 {
		sampleRate = g.cfg.SampleRate
	}
	channels := resp.Channels
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return track.Track{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

func (g *execGenerator) runnerArgs() []string {
	args := append([]string{}, g.cmd[1:]...)
	if g.cfg.Model != "" {
		args = append(args, "--model", g.cfg.Model)
	}
	if DevicePreference(g.cfg.Device) == DeviceCPU {
		args = append(args, "--device", "cpu")
	}
	return args
}

func (g *execGenerator) Close() error { return nil }
