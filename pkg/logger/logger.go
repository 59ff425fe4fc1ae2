package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Rotation    RotationConfig
	Audit       AuditConfig
}

// RotationConfig bounds file outputs. Zero values fall back to defaults.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditConfig controls audit log output behaviour. Approvals, rejections and
// resumed runs are written here.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	auditLogger   *slog.Logger
	closers       []io.Closer
	initialised   bool
)

// Init configures the global logger instances. Calling it again replaces the
// previous configuration after flushing open files.
func Init(cfg Config) error {
	level := parseLevel(cfg.Level)
	handler, files, err := buildHandler(cfg, &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug})
	if err != nil {
		return err
	}
	app := slog.New(handler)
	audit := app
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			return errors.New("audit log path cannot be empty when enabled")
		}
		writer := rotatingFile(cfg.Audit.Path, RotationConfig{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		})
		files = append(files, writer)
		audit = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})).With("stream", "audit")
	}

	mu.Lock()
	previous := closers
	defaultLogger = app
	auditLogger = audit
	closers = files
	initialised = true
	mu.Unlock()

	for _, c := range previous {
		_ = c.Close()
	}
	return nil
}

func buildHandler(cfg Config, opts *slog.HandlerOptions) (slog.Handler, []io.Closer, error) {
	var (
		writers []io.Writer
		files   []io.Closer
	)
	for _, out := range cfg.OutputPaths {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		case "discard":
			writers = append(writers, io.Discard)
		default:
			file := rotatingFile(out, cfg.Rotation)
			writers = append(writers, file)
			files = append(files, file)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(writer, opts), files, nil
	}
	return slog.NewJSONHandler(writer, opts), files, nil
}

func rotatingFile(path string, rot RotationConfig) *lumberjack.Logger {
	if rot.MaxSizeMB <= 0 {
		rot.MaxSizeMB = 100
	}
	if rot.MaxBackups <= 0 {
		rot.MaxBackups = 7
	}
	if rot.MaxAgeDays <= 0 {
		rot.MaxAgeDays = 30
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.RLock()
	l, ok := defaultLogger, initialised
	mu.RUnlock()
	if !ok {
		_ = Init(Config{})
		mu.RLock()
		l = defaultLogger
		mu.RUnlock()
	}
	return l
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Sync flushes buffered log entries to their outputs.
func Sync() error {
	mu.Lock()
	files := closers
	closers = nil
	mu.Unlock()

	var err error
	for _, c := range files {
		err = errors.Join(err, c.Close())
	}
	return err
}

// Named returns a child logger with the provided component name.
func Named(name string) *slog.Logger {
	return L().With("component", name)
}

// ForThread returns a component logger annotated with a conversation thread
// and run identifier.
func ForThread(component, threadID, runID string) *slog.Logger {
	return Named(component).With("thread_id", threadID, "run_id", runID)
}
