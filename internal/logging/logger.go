// Package logging provides structured logging for the companion daemon.
//
// The daemon runs unattended on a user's device, so logs go to a rotating
// file by default and the UI never sees them. The package exposes a small
// global API; packages log through the convenience functions rather than
// carrying a logger around.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	logrus "github.com/sirupsen/logrus"
)

// Fields carries structured context for a log entry.
type Fields = map[string]interface{}

// Logger wraps logrus with the daemon's conventions.
type Logger struct {
	log *logrus.Logger
}

var (
	// global logger instance
	global *Logger
	once   sync.Once
)

// Options controls logger initialization.
type Options struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string
	// FilePath enables rotating-file output when non-empty.
	FilePath string
	// Output overrides the destination entirely (used by tests).
	Output io.Writer
}

// Init initializes the global logger. Subsequent calls are ignored.
func Init(opts Options) {
	once.Do(func() {
		global = newLogger(opts)
	})
}

// Get returns the global logger, initializing a stderr logger if needed.
func Get() *Logger {
	if global == nil {
		Init(Options{})
	}
	return global
}

func newLogger(opts Options) *Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch {
	case opts.Output != nil:
		l.SetOutput(opts.Output)
	case opts.FilePath != "":
		l.SetOutput(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 7,
			MaxAge:     7, // days
			Compress:   true,
		})
	default:
		l.SetOutput(os.Stderr)
	}

	return &Logger{log: l}
}

// Debug logs a debug message with optional context.
func (l *Logger) Debug(message string, context ...Fields) {
	l.entry(context...).Debug(message)
}

// Info logs an info message with optional context.
func (l *Logger) Info(message string, context ...Fields) {
	l.entry(context...).Info(message)
}

// Warn logs a warning message with optional context.
func (l *Logger) Warn(message string, context ...Fields) {
	l.entry(context...).Warn(message)
}

// Error logs an error message with optional context.
func (l *Logger) Error(message string, err error, context ...Fields) {
	entry := l.entry(context...)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// entry merges the variadic context maps into a single logrus entry.
func (l *Logger) entry(context ...Fields) *logrus.Entry {
	if len(context) == 0 {
		return logrus.NewEntry(l.log)
	}
	merged := make(logrus.Fields)
	for _, c := range context {
		for k, v := range c {
			merged[k] = v
		}
	}
	return l.log.WithFields(merged)
}

// Convenience functions using the global logger

func Debug(message string, context ...Fields) {
	Get().Debug(message, context...)
}

func Info(message string, context ...Fields) {
	Get().Info(message, context...)
}

func Warn(message string, context ...Fields) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...Fields) {
	Get().Error(message, err, context...)
}
