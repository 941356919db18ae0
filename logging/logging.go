package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LoggerInterface defines the interface for logging methods
type LoggerInterface interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warning(format string, v ...interface{})
	Error(format string, v ...interface{})
	Fatal(format string, v ...interface{})
	Sync() error
	ChangeLogLevel(level LogLevel)
}

// Logger is a printf-style facade over zerolog writing JSON lines to a
// rotating file and human-readable lines to stdout.
type Logger struct {
	zl     zerolog.Logger
	rotate interface{ Rotate() error }
	closer io.Closer
}

// NewLogger creates a new logger instance with file output and rotation
func NewLogger(logFile string, maxSize, maxBackups, maxAge int, compress bool, level LogLevel) (*Logger, error) {
	fileWriter, err := newRotatingWriter(logFile, maxSize, maxBackups, maxAge, compress)
	if err != nil {
		return nil, err
	}
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zl := zerolog.New(zerolog.MultiLevelWriter(fileWriter, console)).
		Level(level.zerolog()).
		With().Timestamp().Logger()

	return &Logger{zl: zl, rotate: fileWriter, closer: fileWriter}, nil
}

// NewWriterLogger builds a logger on an arbitrary writer, without rotation
func NewWriterLogger(w io.Writer, level LogLevel) *Logger {
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// With returns a child logger tagged with a component name
func (l *Logger) With(component string) *Logger {
	return &Logger{
		zl:     l.zl.With().Str("component", component).Logger(),
		rotate: l.rotate,
		closer: l.closer,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.zl.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, v...))
	_ = l.Close()
	os.Exit(1)
}

// Sync starts a fresh log file so the current one can be shipped
func (l *Logger) Sync() error {
	if l.rotate == nil {
		return nil
	}
	return l.rotate.Rotate()
}

// ChangeLogLevel changes the logging level at runtime
func (l *Logger) ChangeLogLevel(level LogLevel) {
	l.zl = l.zl.Level(level.zerolog())
}

// Close releases the file writer
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
