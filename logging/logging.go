// Package logging builds the process-wide hclog logger from configuration.
package logging

import (
	"io"
	"os"
	"strings"

	"convertd/config"

	"github.com/hashicorp/go-hclog"
)

// New returns the root logger. Components derive their own with Named.
func New(cfg *config.Config) hclog.Logger {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput is New with an explicit sink, used by tests.
func NewWithOutput(cfg *config.Config, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "convertd",
		Level:      ParseLevel(cfg.LogLevel),
		Output:     out,
		JSONFormat: cfg.LogJSON,
		Color:      hclog.ColorOff,
	})
}

// ParseLevel maps a config string to an hclog level, defaulting to info.
func ParseLevel(s string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}
