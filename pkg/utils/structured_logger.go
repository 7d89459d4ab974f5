package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFormat defines the output format for logs
type LogFormat int

const (
	FormatText LogFormat = iota
	FormatJSON
)

// ParseLogFormat maps "json" to FormatJSON and anything else to FormatText.
func ParseLogFormat(s string) LogFormat {
	if s == "json" {
		return FormatJSON
	}
	return FormatText
}

// RotationConfig configures the rotating log file.
type RotationConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// StructuredLoggerConfig holds configuration for the logger
type StructuredLoggerConfig struct {
	Level         LogLevel
	Output        io.Writer
	Format        LogFormat
	IncludeCaller bool
	IncludeStack  bool
	Rotation      *RotationConfig
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() *StructuredLoggerConfig {
	return &StructuredLoggerConfig{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// levelState is shared by a logger and every child derived from it.
type levelState struct {
	mu              sync.RWMutex
	level           LogLevel
	componentLevels map[string]LogLevel
}

// StructuredLogger provides leveled, field-oriented logging backed by zap.
type StructuredLogger struct {
	zl        *zap.Logger
	state     *levelState
	component string
	closer    io.Closer
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(config *StructuredLoggerConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultStructuredLoggerConfig()
	}

	var (
		sink   zapcore.WriteSyncer
		closer io.Closer
	)
	switch {
	case config.Rotation != nil && config.Rotation.Filename != "":
		if err := os.MkdirAll(filepath.Dir(config.Rotation.Filename), 0750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   config.Rotation.Filename,
			MaxSize:    config.Rotation.MaxSizeMB,
			MaxBackups: config.Rotation.MaxBackups,
			MaxAge:     config.Rotation.MaxAgeDays,
			Compress:   config.Rotation.Compress,
		}
		sink = zapcore.AddSync(lj)
		closer = lj
	case config.Output != nil:
		sink = zapcore.AddSync(config.Output)
	default:
		sink = zapcore.AddSync(os.Stdout)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if config.Format == FormatJSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	// zap sees every entry down to debug; level filtering happens in isEnabled
	// so that component overrides and TRACE work.
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(zapcore.DebugLevel))

	var opts []zap.Option
	if config.IncludeCaller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2))
	}
	if config.IncludeStack {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return &StructuredLogger{
		zl: zap.New(core, opts...),
		state: &levelState{
			level:           config.Level,
			componentLevels: make(map[string]LogLevel),
		},
		closer: closer,
	}, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{
		zl:    zap.NewNop(),
		state: &levelState{level: FATAL + 1, componentLevels: make(map[string]LogLevel)},
	}
}

// WithField returns a new logger with an additional context field
func (sl *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	child := *sl
	child.zl = sl.zl.With(zap.Any(key, value))
	if key == "component" {
		if s, ok := value.(string); ok {
			child.component = s
		}
	}
	return &child
}

// WithFields returns a new logger with multiple context fields
func (sl *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	child := *sl
	child.zl = sl.zl.With(toZapFields(fields)...)
	if c, ok := fields["component"].(string); ok {
		child.component = c
	}
	return &child
}

// WithComponent returns a logger with a component field
func (sl *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return sl.WithField("component", component)
}

// SetComponentLevel sets the log level for a specific component
func (sl *StructuredLogger) SetComponentLevel(component string, level LogLevel) {
	sl.state.mu.Lock()
	defer sl.state.mu.Unlock()
	sl.state.componentLevels[component] = level
}

// SetLevel sets the global log level
func (sl *StructuredLogger) SetLevel(level LogLevel) {
	sl.state.mu.Lock()
	defer sl.state.mu.Unlock()
	sl.state.level = level
}

// GetLevel returns the current log level
func (sl *StructuredLogger) GetLevel() LogLevel {
	sl.state.mu.RLock()
	defer sl.state.mu.RUnlock()
	return sl.state.level
}

// Enabled reports whether a message at level would be written.
func (sl *StructuredLogger) Enabled(level LogLevel) bool {
	return sl.isEnabled(level)
}

func (sl *StructuredLogger) isEnabled(level LogLevel) bool {
	sl.state.mu.RLock()
	defer sl.state.mu.RUnlock()

	if sl.component != "" {
		if compLevel, ok := sl.state.componentLevels[sl.component]; ok {
			return level >= compLevel
		}
	}
	return level >= sl.state.level
}

func (sl *StructuredLogger) log(level LogLevel, message string, fields map[string]interface{}) {
	if !sl.isEnabled(level) {
		return
	}

	zf := toZapFields(fields)
	if level == TRACE {
		zf = append(zf, zap.Bool("trace", true))
	}

	// FATAL is written at error level here so that Fatal controls the exit.
	zl := level.zapLevel()
	if zl == zapcore.FatalLevel {
		zl = zapcore.ErrorLevel
	}
	if ce := sl.zl.Check(zl, message); ce != nil {
		ce.Write(zf...)
	}
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func firstFields(fieldMaps []map[string]interface{}) map[string]interface{} {
	if len(fieldMaps) > 0 {
		return fieldMaps[0]
	}
	return nil
}

// Trace logs a trace message
func (sl *StructuredLogger) Trace(message string, fields ...map[string]interface{}) {
	sl.log(TRACE, message, firstFields(fields))
}

// Debug logs a debug message
func (sl *StructuredLogger) Debug(message string, fields ...map[string]interface{}) {
	sl.log(DEBUG, message, firstFields(fields))
}

// Info logs an info message
func (sl *StructuredLogger) Info(message string, fields ...map[string]interface{}) {
	sl.log(INFO, message, firstFields(fields))
}

// Warn logs a warning message
func (sl *StructuredLogger) Warn(message string, fields ...map[string]interface{}) {
	sl.log(WARN, message, firstFields(fields))
}

// Error logs an error message
func (sl *StructuredLogger) Error(message string, fields ...map[string]interface{}) {
	sl.log(ERROR, message, firstFields(fields))
}

// Fatal logs a fatal message and exits
func (sl *StructuredLogger) Fatal(message string, fields ...map[string]interface{}) {
	sl.log(FATAL, message, firstFields(fields))
	_ = sl.Sync()
	os.Exit(1)
}

// Debugf logs a formatted debug message
func (sl *StructuredLogger) Debugf(format string, args ...interface{}) {
	sl.log(DEBUG, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message
func (sl *StructuredLogger) Infof(format string, args ...interface{}) {
	sl.log(INFO, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message
func (sl *StructuredLogger) Warnf(format string, args ...interface{}) {
	sl.log(WARN, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message
func (sl *StructuredLogger) Errorf(format string, args ...interface{}) {
	sl.log(ERROR, fmt.Sprintf(format, args...), nil)
}

// Sync flushes any buffered log entries
func (sl *StructuredLogger) Sync() error {
	return sl.zl.Sync()
}

// Close flushes and closes the rotating log file, if any.
func (sl *StructuredLogger) Close() error {
	_ = sl.zl.Sync()
	if sl.closer != nil {
		return sl.closer.Close()
	}
	return nil
}
