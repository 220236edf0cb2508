package gen

import (
	"fmt"

	"github.com/restylelabs/restyle/internal/config"
)

// FromConfig builds the configured backend.
func FromConfig(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "exec":
		return NewExecGenerator(cfg)
	case "http":
		return NewHTTPGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown generator mode %q", cfg.Mode)
	}
}
