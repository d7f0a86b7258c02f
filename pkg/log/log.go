package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child of the global logger scoped to one
// package (component), the root of every other scoping helper in this
// file.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRunID adds a run_id field to an existing logger. Unlike the
// package-level WithComponent, these field-scoping helpers take the
// logger to extend rather than always starting from the global Logger,
// so a run's logging context composes with its component's
// (log.WithRunID(log.WithComponent("run"), id)) instead of discarding it.
func WithRunID(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithJobType adds a job_type field to an existing logger.
func WithJobType(logger zerolog.Logger, jobType string) zerolog.Logger {
	return logger.With().Str("job_type", jobType).Logger()
}

// WithWorkflowType adds a workflow_type field to an existing logger.
func WithWorkflowType(logger zerolog.Logger, workflowType string) zerolog.Logger {
	return logger.With().Str("workflow_type", workflowType).Logger()
}
