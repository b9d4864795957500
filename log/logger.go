// Package log is the structured logger shared by the streaming core and
// the CLI.
//
// Every entry carries the session ID and, when known, the serial port and
// baud rate. Call-site fields are nested under "fields". A nil *Logger
// discards everything, so components may be built without one.
package log

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Session identifies the streaming session a log entry belongs to.
type Session struct {
	SessionID string
	Port      string
	Baud      int
}

// Options selects verbosity and encoding.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Console writes human-readable lines instead of JSON.
	Console bool
}

// Logger wraps a zap.Logger with session context.
type Logger struct {
	zap *zap.Logger
}

// New builds a logger writing to w.
func New(w io.Writer, session Session, opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewJSONEncoder(encoderConfig())
	if opts.Console {
		cfg := encoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)

	ctx := []zap.Field{zap.String("session_id", session.SessionID)}
	if session.Port != "" {
		ctx = append(ctx, zap.String("port", session.Port))
	}
	if session.Baud > 0 {
		ctx = append(ctx, zap.Int("baud", session.Baud))
	}
	return &Logger{zap: zap.New(core).With(ctx...)}, nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return l, fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", s)
	}
	switch l {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
		return l, nil
	}
	return l, fmt.Errorf("invalid log level %q (must be debug, info, warn or error)", s)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// With returns a logger tagged with a component name.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{zap: l.zap.With(zap.String("component", component))}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func (l *Logger) log(level zapcore.Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	if ce := l.zap.Check(level, msg); ce != nil {
		if len(fields) == 0 {
			ce.Write()
			return
		}
		ce.Write(zap.Any("fields", fields))
	}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(zapcore.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(zapcore.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(zapcore.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(zapcore.ErrorLevel, msg, fields) }

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l != nil && l.zap.Core().Enabled(level)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}
