package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/restylelabs/restyle/internal/bus"
	"github.com/restylelabs/restyle/internal/config"
	"github.com/restylelabs/restyle/internal/gen"
	"github.com/restylelabs/restyle/internal/natsserver"
	"github.com/restylelabs/restyle/internal/orchestrate"
	"github.com/restylelabs/restyle/internal/pipeline"
	"github.com/restylelabs/restyle/internal/runstore"
	"github.com/restylelabs/restyle/internal/runtime"
	"github.com/restylelabs/restyle/internal/style"
	"github.com/restylelabs/restyle/internal/track"
)

var version = "0.2.0"

func main() {
	var (
		configPath  string
		inputPath   string
		outputDir   string
		styleText   string
		windowSecs  int
		policy      string
		device      string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&inputPath, "input", "", "Decoded source WAV to restyle")
	flag.StringVar(&outputDir, "output-dir", "", "Override pipeline.output_dir")
	flag.StringVar(&styleText, "style", "", "Override pipeline.style")
	flag.IntVar(&windowSecs, "window", 0, "Override pipeline.window_seconds")
	flag.StringVar(&policy, "policy", "", "Override pipeline.failure_policy (abort|skip-and-continue)")
	flag.StringVar(&device, "device", "", "Override generator.device (auto|cpu)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		bootstrap.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if outputDir != "" {
		cfg.Pipeline.OutputDir = outputDir
	}
	if styleText != "" {
		cfg.Pipeline.Style = styleText
	}
	if windowSecs > 0 {
		cfg.Pipeline.WindowSeconds = windowSecs
	}
	if policy != "" {
		cfg.Pipeline.FailurePolicy = policy
	}
	if device != "" {
		cfg.Generator.Device = device
	}

	logger := runtime.NewLogger(os.Stdout, cfg.Telemetry.LogLevel)

	if inputPath == "" {
		logger.Error("missing required -input flag")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, inputPath, logger); err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, inputPath string, logger *slog.Logger) error {
	telemetry, err := runtime.Start(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telemetry.Close(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	var busClient *bus.Client
	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(cfg.Bus, logger)
		if err != nil {
			return err
		}
		defer busClient.Close()
	}

	store, err := runstore.Open(ctx, cfg.RunStore, logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	generator, err := gen.FromConfig(cfg.Generator)
	if err != nil {
		return err
	}

	orch, err := orchestrate.New(ctx, logger, generator)
	if err != nil {
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("generator close error", slog.String("error", err.Error()))
		}
	}()

	source, err := track.ReadWAVFile(inputPath)
	if err != nil {
		return err
	}
	logger.Info("source loaded",
		slog.String("path", inputPath),
		slog.Duration("duration", source.Duration()),
		slog.Int("sample_rate", source.SampleRate),
		slog.Int("channels", source.Channels))

	ctrl, err := pipeline.NewController(pipeline.Options{
		Window:     time.Duration(cfg.Pipeline.WindowSeconds) * time.Second,
		Style:      style.Descriptor{Text: cfg.Pipeline.Style, PreserveMelody: cfg.Pipeline.PreserveMelody},
		Policy:     pipeline.Policy(cfg.Pipeline.FailurePolicy),
		OutputDir:  cfg.Pipeline.OutputDir,
		OutputName: cfg.Pipeline.OutputName,
		SourcePath: inputPath,
	}, orch, store, busClient, logger)
	if err != nil {
		return err
	}

	outcome, err := ctrl.Run(ctx, source)
	if err != nil {
		var perr *pipeline.PipelineError
		if errors.As(err, &perr) {
			logger.Error("run aborted on generation failures",
				slog.String("run_id", ctrl.RunID()),
				slog.Any("failed_indices", perr.FailedIndices))
		}
		return err
	}

	logger.Info("run finished",
		slog.String("run_id", ctrl.RunID()),
		slog.String("state", string(outcome.State)),
		slog.String("output", outcome.OutputPath),
		slog.Duration("source_duration", outcome.SourceDuration),
		slog.Duration("output_duration", outcome.OutputDuration),
		slog.Any("dropped", outcome.Dropped))
	return nil
}
