// Package logging provides leveled, structured logging for the backup
// engine. The public API (Logger, LogLevel, Config, Default/SetDefault, the
// package-level Debug/Info/Warn/Error convenience functions) matches
// ublk-mem's internal/logging verbatim in shape; Init is re-grounded on
// go.uber.org/zap the way yanet2's common/go/logging.Init builds a
// zap.SugaredLogger with a terminal-aware console encoder
// (golang.org/x/term.IsTerminal), so every component gets structured,
// leveled logging instead of a bare *log.Logger.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// LogLevel mirrors ublk-mem's LogLevel enum, mapped onto zapcore.Level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration, loadable from the CLI's YAML config
// file (§10: gopkg.in/yaml.v3, the same tag set yanet2's logging.Config uses).
type Config struct {
	Level  LogLevel `yaml:"level"`
	Format string   `yaml:"format"` // "console" (default) or "json"

	// Output overrides the destination (default os.Stderr); set by tests.
	Output io.Writer `yaml:"-"`
	// NoColor disables ANSI level coloring even on a terminal.
	NoColor bool `yaml:"-"`
	// Sync forces a Sync() after every log call, for deterministic test
	// assertions against a bytes.Buffer.
	Sync bool `yaml:"-"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Format: "console", Output: os.Stderr}
}

// Logger wraps a zap.SugaredLogger with the level-gated API the rest of the
// engine calls.
type Logger struct {
	sugar *zap.SugaredLogger
	sync  bool
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// Init builds a zap.SugaredLogger the way yanet2's logging.Init does:
// console encoding with color when stderr is a terminal, a leveled,
// dynamically adjustable zap.AtomicLevel. Returned for callers (e.g. the
// CLI) that want direct access to the underlying zap logger and its level.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	// Build the core at the lowest level and let the AtomicLevel do the
	// gating, so later changes to the returned level take effect.
	debugCfg := *cfg
	debugCfg.Level = LevelDebug
	core, _ := buildCore(&debugCfg)
	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())
	core, err := zapcore.NewIncreaseLevelCore(core, level)
	if err != nil {
		return nil, level, err
	}
	return zap.New(core).Sugar(), level, nil
}

func buildCore(cfg *Config) (zapcore.Core, zapcore.WriteSyncer) {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	isTerminal := false
	if f, ok := output.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
	}
	if isTerminal && !cfg.NoColor {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(output)
	return zapcore.NewCore(encoder, sink, cfg.Level.zapLevel()), sink
}

// NewLogger creates a new logger from cfg (nil uses DefaultConfig).
func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	core, _ := buildCore(cfg)
	return &Logger{sugar: zap.New(core).Sugar(), sync: cfg.Sync}
}

// Default returns the process-wide default logger, creating one on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func (l *Logger) maybeSync() {
	if l.sync {
		_ = l.sugar.Sync()
	}
}

// With returns a child logger with the given key-value pairs attached to
// every subsequent log line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...), sync: l.sync}
}

// WithJob attaches a job identifier to every subsequent log line.
func (l *Logger) WithJob(id string) *Logger {
	return l.With("job_id", id)
}

// WithSide attaches the failing side (source/target) to every subsequent
// log line, for error-action logging (§4.G).
func (l *Logger) WithSide(side string) *Logger {
	return l.With("side", side)
}

// WithError attaches err to every subsequent log line.
func (l *Logger) WithError(err error) *Logger {
	return l.With(zap.Error(err))
}

func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
	l.maybeSync()
}

func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
	l.maybeSync()
}

func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
	l.maybeSync()
}

func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
	l.maybeSync()
}

func (l *Logger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
	l.maybeSync()
}

func (l *Logger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
	l.maybeSync()
}

func (l *Logger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
	l.maybeSync()
}

func (l *Logger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
	l.maybeSync()
}

// Printf logs at info level, kept for call sites migrated from the
// teacher's bare *log.Logger API.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions operating on Default().

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
