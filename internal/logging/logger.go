package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures RuntimeLogger creation.
type Option func(*newOptions)

type newOptions struct {
	runID   string
	traceID string
	spanID  string
	level   string
	toFile  bool
	writer  io.Writer
}

// WithRunID configures the run_id field used in emitted log records.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithTraceID configures the trace_id field used in emitted log records.
func WithTraceID(traceID string) Option {
	return func(opts *newOptions) {
		opts.traceID = strings.TrimSpace(traceID)
	}
}

// WithSpanID configures the span_id field used in emitted log records.
func WithSpanID(spanID string) Option {
	return func(opts *newOptions) {
		opts.spanID = strings.TrimSpace(spanID)
	}
}

// WithLevel sets the minimum level: debug, info, warn or error.
func WithLevel(level string) Option {
	return func(opts *newOptions) {
		opts.level = strings.TrimSpace(level)
	}
}

// WithFile switches output to a JSON log file under ~/.lessc/logs.
func WithFile(enabled bool) Option {
	return func(opts *newOptions) {
		opts.toFile = enabled
	}
}

// WithWriter sets the destination for text output. Defaults to stderr.
func WithWriter(w io.Writer) Option {
	return func(opts *newOptions) {
		opts.writer = w
	}
}

// RuntimeLogger writes structured logs as text to a terminal or as JSON to disk.
type RuntimeLogger struct {
	Logger     *log.Logger
	file       *os.File
	path       string
	baseLogger *log.Logger
	runID      string
	traceID    string
	spanID     string
}

// New initializes logging. Text goes to stderr unless WithFile is set, in
// which case JSON records go to ~/.lessc/logs and nothing is written to the
// terminal.
func New(ctx context.Context, options ...Option) (*RuntimeLogger, error) {
	resolved := resolveOptions(options)
	level, err := log.ParseLevel(resolved.level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", resolved.level, err)
	}

	runtimeLogger := &RuntimeLogger{
		runID:   resolved.runID,
		traceID: resolved.traceID,
		spanID:  resolved.spanID,
	}

	if resolved.toFile {
		file, filePath, err := openLogFile(resolved.runID)
		if err != nil {
			return nil, err
		}
		logger := log.NewWithOptions(file, log.Options{
			Level:           level,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
		})
		logger.SetFormatter(log.JSONFormatter)
		runtimeLogger.file = file
		runtimeLogger.path = filePath
		runtimeLogger.baseLogger = logger
	} else {
		writer := resolved.writer
		if writer == nil {
			writer = os.Stderr
		}
		runtimeLogger.baseLogger = log.NewWithOptions(writer, log.Options{
			Level:  level,
			Prefix: "lessc",
		})
	}

	runtimeLogger.rebuildLogger()
	if runtimeLogger.path != "" {
		runtimeLogger.Logger.With("log_file", runtimeLogger.path).Info("logger initialized")
	}

	_ = ctx
	return runtimeLogger, nil
}

func openLogFile(runID string) (*os.File, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("resolve home directory: %w", err)
	}

	logDir := filepath.Join(homeDir, ".lessc", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, "", fmt.Errorf("create log directory: %w", err)
	}

	timestamp := time.Now().UTC().Format("20060102-150405")
	fileName := fmt.Sprintf("lessc-%s.log", timestamp)
	if runID != "" {
		fileName = fmt.Sprintf("lessc-%s-%s.log", timestamp, runID)
	}
	filePath := filepath.Join(logDir, fileName)
	// #nosec G304 -- filePath is constructed from trusted local paths.
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return file, filePath, nil
}

// WithRunID updates the run_id field for subsequent log records.
func (r *RuntimeLogger) WithRunID(runID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.runID = strings.TrimSpace(runID)
	r.rebuildLogger()
	return r
}

// WithTraceID updates the trace_id field for subsequent log records.
func (r *RuntimeLogger) WithTraceID(traceID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.traceID = strings.TrimSpace(traceID)
	r.rebuildLogger()
	return r
}

// WithSpanID updates the span_id field for subsequent log records.
func (r *RuntimeLogger) WithSpanID(spanID string) *RuntimeLogger {
	if r == nil {
		return nil
	}
	r.spanID = strings.TrimSpace(spanID)
	r.rebuildLogger()
	return r
}

// Close flushes and closes the log file.
func (r *RuntimeLogger) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Path returns the current log file path, or "" when logging to a writer.
func (r *RuntimeLogger) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

func (r *RuntimeLogger) rebuildLogger() {
	if r == nil || r.baseLogger == nil {
		return
	}
	fields := make([]any, 0, 6)
	for _, field := range []struct{ key, value string }{
		{"run_id", r.runID},
		{"trace_id", r.traceID},
		{"span_id", r.spanID},
	} {
		if field.value != "" {
			fields = append(fields, field.key, field.value)
		}
	}
	r.Logger = r.baseLogger.With(fields...)
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{level: "info"}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	if resolved.level == "" {
		resolved.level = "info"
	}
	return resolved
}
