// Package logger configures structured JSON logging for the feed services.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Log wraps logrus.Logger.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry.
type Entry struct {
	*logrus.Entry
}

// Logger returns a JSON logger at the level named by LOG_LEVEL (default info).
func Logger() *Log {
	l := logrus.New()
	l.SetReportCaller(true)
	l.SetLevel(parseLevel(os.Getenv("LOG_LEVEL"), logrus.InfoLevel))
	l.SetFormatter(jsonFormatter())
	l.AddHook(&callerHook{})
	return &Log{Logger: l}
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard() *Log {
	l := Logger()
	l.SetOutput(io.Discard)
	return l
}

// Configure applies level, format ("json" or "text") and output. Output is
// "stdout", "stderr" or a file path; file output rotates when maxSizeMB > 0.
// LOG_LEVEL overrides level when set.
func (l *Log) Configure(level, format, output string, maxSizeMB int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	l.SetLevel(lvl)

	switch format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	switch output {
	case "stdout", "":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		if maxSizeMB > 0 {
			l.SetOutput(&lumberjack.Logger{
				Filename: output,
				MaxSize:  maxSizeMB,
				MaxAge:   28,
				Compress: true,
			})
			return nil
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %q: %w", output, err)
		}
		l.SetOutput(file)
	}
	return nil
}

// WithComponent returns an entry tagged with the component name.
func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

// WithFields returns an entry carrying fields.
func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

// LogDuration logs how long an operation took.
func (e *Entry) LogDuration(operation string, d time.Duration) {
	e.Entry.WithFields(logrus.Fields{
		"operation":   operation,
		"duration_ms": float64(d.Nanoseconds()) / 1e6,
	}).Debug("operation finished")
}

func parseLevel(s string, fallback logrus.Level) logrus.Level {
	if s == "" {
		return fallback
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return fallback
	}
	return lvl
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}
