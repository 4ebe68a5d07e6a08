package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured JSON logger.
// Log format: structured JSON to stdout.
// Production default: info. Set via WAGER_LOG_LEVEL env var.
func NewLogger(component string) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(LevelFromEnv()).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// LevelFromEnv returns the level named by WAGER_LOG_LEVEL.
func LevelFromEnv() zerolog.Level {
	return parseLogLevel(os.Getenv("WAGER_LOG_LEVEL"))
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	// timestamps in RFC3339 with sub-second precision
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
