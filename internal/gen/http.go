package gen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/restylelabs/restyle/internal/config"
	"github.com/restylelabs/restyle/internal/track"
)

// httpGenerator talks to a remote generation server over its submit/poll
// REST API. The server owns the device and keeps the model resident across
// requests, which is what makes many sequential segment calls affordable.
type httpGenerator struct {
	endpoint     string
	apiKey       string
	model        string
	device       DevicePreference
	pollInterval time.Duration
	timeout      time.Duration
	httpc        *http.Client
}

type deviceResponse struct {
	Device      string `json:"device"`
	Accelerator bool   `json:"accelerator"`
	Model       string `json:"model"`
}

type submitRequest struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	DurationSec  float64 `json:"duration_sec"`
	Device       string  `json:"device,omitempty"`
	SampleRate   int     `json:"sample_rate"`
	Channels     int     `json:"channels"`
	MelodyBase64 string  `json:"melody_pcm_base64"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type taskResponse struct {
	Status     string `json:"status"` // queued, running, succeeded, failed
	Error      string `json:"error"`
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func NewHTTPGenerator(cfg config.GeneratorConfig) Generator {
	return &httpGenerator{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		device:       DevicePreference(cfg.Device),
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		httpc:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *httpGenerator) Probe(ctx context.Context) (Capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/v1/device", nil)
	if err != nil {
		return Capabilities{}, err
	}
	g.authorize(req)

	resp, err := g.httpc.Do(req)
	if err != nil {
		return Capabilities{}, fmt.Errorf("probe generation server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Capabilities{}, fmt.Errorf("generation server returned status %s", resp.Status)
	}

	var dev deviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&dev); err != nil {
		return Capabilities{}, fmt.Errorf("decode device response: %w", err)
	}
	caps := Capabilities{Device: dev.Device, Accelerator: dev.Accelerator, ModelID: dev.Model}
	if g.device == DeviceCPU {
		caps.Device = "cpu"
		caps.Accelerator = false
	}
	return caps, nil
}

func (g *httpGenerator) Generate(ctx context.Context, req Request) (track.Track, error) {
	if req.TargetDuration <= 0 {
		return track.Track{}, ErrInvalidDuration
	}

	// Bound submit plus polling so a task stuck in a non-terminal status
	// fails this segment alone instead of stalling the run.
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	taskID, err := g.submit(ctx, req)
	if err != nil {
		return track.Track{}, err
	}
	return g.pollUntilDone(ctx, taskID)
}

func (g *httpGenerator) submit(ctx context.Context, req Request) (string, error) {
	payload := submitRequest{
		Model:        g.model,
		Prompt:       req.Prompt,
		DurationSec:  req.TargetDuration.Seconds(),
		SampleRate:   req.Melody.SampleRate,
		Channels:     req.Melody.Channels,
		MelodyBase64: encodePCM16(req.Melody.Samples),
	}
	if g.device == DeviceCPU {
		payload.Device = "cpu"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	g.authorize(httpReq)

	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit generation task: %w", err)
	}
	defer resp.Body.Close()

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || result.TaskID == "" {
		return "", fmt.Errorf("generation server rejected task (status %s): %s", resp.Status, result.Error)
	}
	return result.TaskID, nil
}

func (g *httpGenerator) pollUntilDone(ctx context.Context, taskID string) (track.Track, error) {
	for {
		select {
		case <-ctx.Done():
			return track.Track{}, ctx.Err()
		case <-time.After(g.pollInterval):
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"/v1/tasks/"+taskID, nil)
		if err != nil {
			return track.Track{}, err
		}
		g.authorize(httpReq)

		resp, err := g.httpc.Do(httpReq)
		if err != nil {
			// transient poll failure, the task keeps running server-side
			continue
		}
		var task taskResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&task)
		resp.Body.Close()
		if decodeErr != nil {
			continue
		}

		switch task.Status {
		case "succeeded":
			return decodePCM16Track(task.PCMBase64, task.SampleRate, task.Channels)
		case "failed":
			return track.Track{}, fmt.Errorf("generation failed for task %s: %s", taskID, task.Error)
		}
	}
}

func (g *httpGenerator) authorize(req *http.Request) {
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
}

func (g *httpGenerator) Close() error {
	g.httpc.CloseIdleConnections()
	return nil
}

func encodePCM16(samples []int) string {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

func decodePCM16Track(encoded string, sampleRate, channels int) (track.Track, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return track.Track{}, fmt.Errorf("decode pcm payload: %w", err)
	}
	if len(pcm)%2 != 0 {
		return track.Track{}, fmt.Errorf("pcm payload not aligned")
	}
	if channels <= 0 {
		channels = 1
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return track.Track{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}
