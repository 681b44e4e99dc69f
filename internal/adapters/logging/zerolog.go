// Package logging implements ports.Logger. ZerologLogger is the backend
// used by pluginctl; NopLogger discards everything.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// Format selects how log lines are rendered.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat maps a configuration value to a Format. Anything other than
// "json" renders as text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// ZerologLogger adapts zerolog to ports.Logger.
type ZerologLogger struct {
	zl    zerolog.Logger
	state *levelState
}

// levelState is shared between a logger and everything derived via With,
// so SetLevel on the root (e.g. from --verbose) applies everywhere.
type levelState struct {
	mu    sync.RWMutex
	level ports.Level
}

type options struct {
	out       io.Writer
	level     ports.Level
	format    Format
	timestamp bool
	color     bool
}

// Option configures a ZerologLogger.
type Option func(*options)

// WithOutput sets the destination (default: os.Stderr).
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithLevel sets the minimum level (default: info).
func WithLevel(level ports.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithFormat selects text or JSON output.
func WithFormat(f Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithTimestamp adds a time field to every entry.
func WithTimestamp(enabled bool) Option {
	return func(o *options) {
		o.timestamp = enabled
	}
}

// WithColor enables ANSI colors in text output.
func WithColor(enabled bool) Option {
	return func(o *options) {
		o.color = enabled
	}
}

// NewZerologLogger creates a logger.
func NewZerologLogger(opts ...Option) *ZerologLogger {
	o := &options{
		out:       os.Stderr,
		level:     ports.LevelInfo,
		format:    FormatText,
		timestamp: true,
	}
	for _, opt := range opts {
		opt(o)
	}

	w := o.out
	if o.format == FormatText {
		w = zerolog.ConsoleWriter{
			Out:        o.out,
			NoColor:    !o.color,
			TimeFormat: "15:04:05",
		}
	}

	zl := zerolog.New(w)
	if o.timestamp {
		zl = zl.With().Timestamp().Logger()
	}

	return &ZerologLogger{zl: zl, state: &levelState{level: o.level}}
}

// Debug logs a debug message.
func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelDebug, msg, fields)
}

// Info logs an informational message.
func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelInfo, msg, fields)
}

// Warn logs a warning.
func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelWarn, msg, fields)
}

// Error logs an error.
func (l *ZerologLogger) Error(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelError, msg, fields)
}

// With returns a logger that adds fields to every entry.
func (l *ZerologLogger) With(fields ...ports.Field) ports.Logger {
	zc := l.zl.With()
	for _, f := range fields {
		zc = zc.Interface(f.Key, f.Value)
	}
	return &ZerologLogger{zl: zc.Logger(), state: l.state}
}

// Level returns the minimum level.
func (l *ZerologLogger) Level() ports.Level {
	l.state.mu.RLock()
	defer l.state.mu.RUnlock()
	return l.state.level
}

// SetLevel sets the minimum level.
func (l *ZerologLogger) SetLevel(level ports.Level) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.level = level
}

func (l *ZerologLogger) log(_ context.Context, level ports.Level, msg string, fields []ports.Field) {
	if level < l.Level() {
		return
	}

	var ev *zerolog.Event
	switch level {
	case ports.LevelDebug:
		ev = l.zl.Debug()
	case ports.LevelWarn:
		ev = l.zl.Warn()
	case ports.LevelError:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}

	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			ev = ev.AnErr(f.Key, err)
			continue
		}
		ev = ev.Interface(f.Key, f.Value)
	}
	ev.Msg(msg)
}

var _ ports.Logger = (*ZerologLogger)(nil)
