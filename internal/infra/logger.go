package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Development gets the console writer,
// everything else emits JSON lines.
func NewLogger(appEnv, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	if appEnv == "development" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
