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

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID creates a child logger with topology_node_id field
func WithNodeID(nodeID uint64) zerolog.Logger {
	return Logger.With().Uint64("topology_node_id", nodeID).Logger()
}

// WithQueryID creates a child logger with query_id field
func WithQueryID(queryID uint64) zerolog.Logger {
	return Logger.With().Uint64("query_id", queryID).Logger()
}

// WithSharedQueryID creates a child logger with shared_query_id field
func WithSharedQueryID(sharedQueryID uint64) zerolog.Logger {
	return Logger.With().Uint64("shared_query_id", sharedQueryID).Logger()
}

// WithSubPlanID creates a child logger with sub_plan_id field
func WithSubPlanID(subPlanID uint64) zerolog.Logger {
	return Logger.With().Uint64("sub_plan_id", subPlanID).Logger()
}

// WithPartition creates a child logger with the network partition identity
func WithPartition(subPlanID uint64, operatorID uint64, partitionID uint64) zerolog.Logger {
	return Logger.With().
		Uint64("sub_plan_id", subPlanID).
		Uint64("operator_id", operatorID).
		Uint64("partition_id", partitionID).
		Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
