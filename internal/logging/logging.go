// Package logging holds the process-wide zerolog logger. Components take a
// tagged child with Component when they are constructed.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger. Replace it with Init or Setup.
var Logger zerolog.Logger

// Level is a zerolog level.
type Level = zerolog.Level

// Config holds logger configuration.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty writes human-readable console lines instead of JSON.
	Pretty bool
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: zerolog.InfoLevel, Output: os.Stderr}
}

// Init replaces the global logger.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// Setup configures logging for the CLI. Unless printLogs is set everything
// is discarded, so stdout and stderr stay clean for command output.
func Setup(level string, printLogs bool) {
	cfg := Config{Level: ParseLevel(level), Output: io.Discard}
	if printLogs {
		cfg.Output = os.Stderr
		cfg.Pretty = true
	}
	Init(cfg)
}

// ParseLevel maps a level name to a Level, accepting "warning" and "off" as
// aliases. Unknown or empty names give info.
func ParseLevel(level string) Level {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "warning":
		name = "warn"
	case "off", "none":
		name = "disabled"
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return l
}

// Component returns a child of the global logger tagged with name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return Logger.Debug() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

// Truncate shortens s to at most n runes for log fields and terminal output.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func init() {
	Init(DefaultConfig())
}
