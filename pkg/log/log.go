package log

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/arenadata/adcm/pkg/lock"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	closers []io.Closer
	sink    io.Writer = os.Stderr
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// RotateConfig describes a size-rotated log file
type RotateConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// Rotate sends output to a rotating file (scheduler.log)
	Rotate *RotateConfig
	// SharedFile sends output to a file appended by many processes under
	// an advisory lock (task_runner.err)
	SharedFile string
	// Tee keeps writing to Output when a file is configured
	Tee bool
	// NoColor disables console colors, for output read by another process
	NoColor bool
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger
func Init(cfg Config) error {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var files []io.Writer
	if cfg.Rotate != nil {
		rl := &lumberjack.Logger{
			Filename:   cfg.Rotate.Path,
			MaxSize:    cfg.Rotate.MaxSizeMB,
			MaxBackups: cfg.Rotate.MaxBackups,
			MaxAge:     cfg.Rotate.MaxAgeDays,
		}
		closers = append(closers, rl)
		files = append(files, rl)
	}
	if cfg.SharedFile != "" {
		w, err := lock.OpenAppend(cfg.SharedFile)
		if err != nil {
			return err
		}
		closers = append(closers, w)
		files = append(files, w)
	}
	if len(files) > 0 {
		if cfg.Tee {
			files = append(files, output)
		}
		output = io.MultiWriter(files...)
	}
	sink = output

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor || len(files) > 0,
		}).With().Timestamp().Logger()
	}
	return nil
}

// Output returns the writer behind Logger: the rotating or shared file
// plus any tee. Child processes that log in the same format can write their
// stdout and stderr to it.
func Output() io.Writer {
	return sink
}

// Close flushes and closes any log files opened by Init
func Close() error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	closers = nil
	sink = os.Stderr
	return first
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTaskID creates a child logger with task_id field
func WithTaskID(taskID int64) zerolog.Logger {
	return Logger.With().Int64("task_id", taskID).Logger()
}

// WithJobID creates a child logger with task_id and job_id fields
func WithJobID(taskID, jobID int64) zerolog.Logger {
	return Logger.With().Int64("task_id", taskID).Int64("job_id", jobID).Logger()
}

// WithLoop creates a child logger for a scheduler loop process
func WithLoop(loop string) zerolog.Logger {
	return Logger.With().Str("component", "scheduler").Str("loop", loop).Str("pid", strconv.Itoa(os.Getpid())).Logger()
}
