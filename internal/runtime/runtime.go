package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/restylelabs/restyle/internal/config"
)

// Telemetry owns the tracing/metrics providers for one process and, when a
// bind address is configured, a metrics endpoint that lives for the
// duration of the run.
type Telemetry struct {
	log      *slog.Logger
	shutdown func(context.Context) error
	server   *http.Server
	wg       sync.WaitGroup
}

// Start initializes telemetry per config and, if telemetry.prometheus_bind
// is set, serves /metrics on it.
func Start(cfg config.Config, logger *slog.Logger) (*Telemetry, error) {
	shutdown, handler, err := setupTelemetry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	t := &Telemetry{log: logger, shutdown: shutdown}

	if bind := cfg.Telemetry.PrometheusBind; bind != "" && handler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		t.server = &http.Server{
			Addr:              bind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		logger.Info("metrics endpoint started", slog.String("addr", bind))
	}

	return t, nil
}

// Close flushes exporters and stops the metrics endpoint.
func (t *Telemetry) Close(ctx context.Context) error {
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			t.log.Error("metrics server shutdown error", slog.String("error", err.Error()))
		}
		t.wg.Wait()
	}
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}

// NewLogger builds the process logger at the configured level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
