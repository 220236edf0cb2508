package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type PipelineConfig struct {
	WindowSeconds  int    `yaml:"window_seconds"`
	Style          string `yaml:"style"`
	PreserveMelody bool   `yaml:"preserve_melody"`
	FailurePolicy  string `yaml:"failure_policy"` // abort | skip-and-continue
	OutputDir      string `yaml:"output_dir"`
	OutputName     string `yaml:"output_name"`
}

type GeneratorConfig struct {
	Mode           string `yaml:"mode"`   // mock, exec, http
	Device         string `yaml:"device"` // auto | cpu
	Command        string `yaml:"command"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	SampleRate     int    `yaml:"sample_rate"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RunStoreConfig struct {
	Path          string `yaml:"path"`
	Mode          string `yaml:"mode"` // ephemeral | persistent
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Generator   GeneratorConfig `yaml:"generator"`
	RunStore    RunStoreConfig  `yaml:"run_store"`
	Bus         BusConfig       `yaml:"bus"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		RuntimeName: "restyle",
		Environment: "development",
		Pipeline: PipelineConfig{
			WindowSeconds:  30,
			Style:          "lofi hip hop with mellow piano and vinyl crackle",
			PreserveMelody: true,
			FailurePolicy:  "skip-and-continue",
			OutputDir:      "./outputs",
			OutputName:     "restyled.wav",
		},
		Generator: GeneratorConfig{
			Mode:           "mock",
			Device:         "auto",
			Endpoint:       "http://localhost:8000",
			Model:          "musicgen-melody",
			SampleRate:     32000,
			PollIntervalMS: 3000,
			TimeoutSeconds: 600,
		},
		RunStore: RunStoreConfig{
			Path:    "./data/restyle-runs.db",
			Mode:    "persistent",
			MaxRuns: 1000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "RESTYLE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "RESTYLE_ENVIRONMENT")
	overrideInt(&cfg.Pipeline.WindowSeconds, "RESTYLE_PIPELINE_WINDOW_SECONDS")
	overrideString(&cfg.Pipeline.Style, "RESTYLE_PIPELINE_STYLE")
	overrideBool(&cfg.Pipeline.PreserveMelody, "RESTYLE_PIPELINE_PRESERVE_MELODY")
	overrideString(&cfg.Pipeline.FailurePolicy, "RESTYLE_PIPELINE_FAILURE_POLICY")
	overrideString(&cfg.Pipeline.OutputDir, "RESTYLE_PIPELINE_OUTPUT_DIR")
	overrideString(&cfg.Pipeline.OutputName, "RESTYLE_PIPELINE_OUTPUT_NAME")
	overrideString(&cfg.Generator.Mode, "RESTYLE_GENERATOR_MODE")
	overrideString(&cfg.Generator.Device, "RESTYLE_GENERATOR_DEVICE")
	overrideString(&cfg.Generator.Command, "RESTYLE_GENERATOR_COMMAND")
	overrideString(&cfg.Generator.Endpoint, "RESTYLE_GENERATOR_ENDPOINT")
	overrideString(&cfg.Generator.APIKey, "RESTYLE_GENERATOR_API_KEY")
	overrideString(&cfg.Generator.Model, "RESTYLE_GENERATOR_MODEL")
	overrideInt(&cfg.Generator.SampleRate, "RESTYLE_GENERATOR_SAMPLE_RATE")
	overrideInt(&cfg.Generator.PollIntervalMS, "RESTYLE_GENERATOR_POLL_INTERVAL_MS")
	overrideInt(&cfg.Generator.TimeoutSeconds, "RESTYLE_GENERATOR_TIMEOUT_SECONDS")
	overrideString(&cfg.RunStore.Path, "RESTYLE_RUN_STORE_PATH")
	overrideString(&cfg.RunStore.Mode, "RESTYLE_RUN_STORE_MODE")
	overrideInt(&cfg.RunStore.MaxRuns, "RESTYLE_RUN_STORE_MAX_RUNS")
	overrideBool(&cfg.RunStore.VacuumOnStart, "RESTYLE_RUN_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "RESTYLE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "RESTYLE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "RESTYLE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "RESTYLE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "RESTYLE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "RESTYLE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "RESTYLE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "RESTYLE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "RESTYLE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.LogLevel, "RESTYLE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "RESTYLE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "RESTYLE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "RESTYLE_TELEMETRY_PROMETHEUS_BIND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.Pipeline.WindowSeconds <= 0 {
		return errors.New("pipeline.window_seconds must be positive")
	}
	if strings.TrimSpace(cfg.Pipeline.Style) == "" {
		return errors.New("pipeline.style must not be empty")
	}
	switch cfg.Pipeline.FailurePolicy {
	case "abort", "skip-and-continue":
	default:
		return errors.New("pipeline.failure_policy must be one of abort|skip-and-continue")
	}
	if cfg.Pipeline.OutputDir == "" {
		return errors.New("pipeline.output_dir must not be empty")
	}
	if cfg.Pipeline.OutputName == "" {
		return errors.New("pipeline.output_name must not be empty")
	}
	switch cfg.Generator.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("generator.mode must be one of mock|exec|http")
	}
	switch cfg.Generator.Device {
	case "auto", "cpu":
	default:
		return errors.New("generator.device must be one of auto|cpu")
	}
	if cfg.Generator.Mode == "exec" && cfg.Generator.Command == "" {
		return errors.New("generator.command must be set when mode=exec")
	}
	if cfg.Generator.Mode == "http" && cfg.Generator.Endpoint == "" {
		return errors.New("generator.endpoint must be set when mode=http")
	}
	if cfg.Generator.SampleRate <= 0 {
		return errors.New("generator.sample_rate must be positive")
	}
	if cfg.Generator.PollIntervalMS <= 0 {
		return errors.New("generator.poll_interval_ms must be positive")
	}
	if cfg.Generator.TimeoutSeconds <= 0 {
		return errors.New("generator.timeout_seconds must be positive")
	}
	switch cfg.RunStore.Mode {
	case "ephemeral", "persistent":
	default:
		return errors.New("run_store.mode must be one of ephemeral|persistent")
	}
	if cfg.RunStore.Mode == "persistent" && cfg.RunStore.Path == "" {
		return errors.New("run_store.path must not be empty when mode=persistent")
	}
	if cfg.RunStore.MaxRuns < 0 {
		return errors.New("run_store.max_runs must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.ConnectTimeout <= 0 {
			return errors.New("bus.connect_timeout_ms must be positive")
		}
	}
	return nil
}
