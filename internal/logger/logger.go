package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"headcount/internal/config"
)

// Level files written under the log directory.
var Files = map[string]string{
	"info":    "info.log",
	"warning": "warning.log",
	"error":   "error.log",
}

// Logger provides leveled logging (debug/info/warning/error) to rotating files and stdout/stderr.
type Logger struct {
	z      *zap.Logger
	s      *zap.SugaredLogger
	logDir string
	files  map[string]*lumberjack.Logger
}

// NewLogger creates a Logger from the service configuration.
func NewLogger(cfg *config.Config) (*Logger, error) {
	return New(cfg.LogDirectory, cfg.LogLevel)
}

// New creates a Logger writing to dir at the given minimum level.
func New(dir, level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	files := make(map[string]*lumberjack.Logger, len(Files))
	for name, file := range Files {
		files[name] = &lumberjack.Logger{
			Filename:   filepath.Join(dir, file),
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	}

	fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEnc := zapcore.NewConsoleEncoder(consoleCfg)

	atLeast := func(min zapcore.Level) zap.LevelEnablerFunc {
		return func(l zapcore.Level) bool { return l >= lvl && l >= min }
	}
	only := func(want zapcore.Level) zap.LevelEnablerFunc {
		return func(l zapcore.Level) bool { return l >= lvl && l == want }
	}

	core := zapcore.NewTee(
		zapcore.NewCore(fileEnc, zapcore.AddSync(files["info"]), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= lvl && l <= zapcore.InfoLevel
		})),
		zapcore.NewCore(fileEnc, zapcore.AddSync(files["warning"]), only(zapcore.WarnLevel)),
		zapcore.NewCore(fileEnc, zapcore.AddSync(files["error"]), atLeast(zapcore.ErrorLevel)),
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stdout), zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= lvl && l < zapcore.ErrorLevel
		})),
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), atLeast(zapcore.ErrorLevel)),
	)

	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{z: z, s: z.Sugar(), logDir: dir, files: files}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	z := zap.NewNop()
	return &Logger{z: z, s: z.Sugar()}
}

// With returns a child Logger that adds key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	s := l.s.With(keysAndValues...)
	return &Logger{z: s.Desugar(), s: s, logDir: l.logDir, files: l.files}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...any) {
	l.s.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...any) {
	l.s.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...any) {
	l.s.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...any) {
	l.s.Errorf(format, v...)
}

// Sync flushes buffered entries and closes the log files.
func (l *Logger) Sync() error {
	_ = l.z.Sync()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dir is the directory holding the log files.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs truncates the log file for level ("info", "warning" or "error").
func (l *Logger) CleanLogs(level string) error {
	file, ok := Files[level]
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	if w, ok := l.files[level]; ok {
		// lumberjack reopens the file on the next write.
		if err := w.Close(); err != nil {
			return fmt.Errorf("close %s: %w", file, err)
		}
	}
	if l.logDir == "" {
		return nil
	}
	if err := os.Truncate(filepath.Join(l.logDir, file), 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate %s: %w", file, err)
	}
	l.Info("Log file %s has been cleared.", file)
	return nil
}
