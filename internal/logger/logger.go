// Package logger provides the process-wide structured logger.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "mofox-core").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// Component returns a sub-logger tagged with the given component name.
// Generalizes the fixed Security()/Database()/WebSocket() helpers of the
// original service into one constructor, since the core runtime spans many
// more components (bus, plugin, eventbus, scheduler, memory/*, reply,
// store) than a fixed handful.
func Component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Bus creates a logger for message bus events.
func Bus() *zerolog.Logger { return Component("bus") }

// Plugin creates a logger for plugin registry events.
func Plugin() *zerolog.Logger { return Component("plugin") }

// EventBus creates a logger for event manager events.
func EventBus() *zerolog.Logger { return Component("eventbus") }

// Scheduler creates a logger for unified scheduler events.
func Scheduler() *zerolog.Logger { return Component("scheduler") }

// Memory creates a logger for tiered memory engine events.
func Memory() *zerolog.Logger { return Component("memory") }

// Store creates a logger for persistence events.
func Store() *zerolog.Logger { return Component("store") }

// Adapter creates a logger for adapter transport events.
func Adapter() *zerolog.Logger { return Component("adapter") }

// Reply creates a logger for reply generator events.
func Reply() *zerolog.Logger { return Component("reply") }

// Permission creates a logger for permission command events.
func Permission() *zerolog.Logger { return Component("permission") }

// Journal creates a logger for staging journal events.
func Journal() *zerolog.Logger { return Component("journal") }

// Command creates a logger for command dispatch events.
func Command() *zerolog.Logger { return Component("command") }
