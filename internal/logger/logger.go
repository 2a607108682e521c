// Package logger builds the zerolog loggers used across acsbridge.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level      string `mapstructure:"level"`
	Debug      bool   `mapstructure:"debug"`
	Output     string `mapstructure:"output"` // "stdout" | "stderr"
	Pretty     bool   `mapstructure:"pretty"`
	TimeFormat string `mapstructure:"time_format"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Output: "stdout"}
}

// New returns a JSON logger writing to cfg.Output. An unknown level is an
// error; an empty one means info.
func New(cfg Config) (zerolog.Logger, error) {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	return NewWithWriter(cfg, out)
}

func NewWithWriter(cfg Config, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel

	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), err
		}
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// WithComponent tags l with a component name.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// NewTestLogger discards everything; tests that assert on output build
// their own logger over a buffer.
func NewTestLogger() zerolog.Logger {
	return zerolog.Nop()
}
