package util

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a prefixed, leveled logger. Every entry is written as one plain
// text line so external viewers can tail the output.
type Logger struct {
	prefix string
	s      *zap.SugaredLogger
	level  zap.AtomicLevel
}

func NewLogger(p string) *Logger {
	return NewLoggerTo(p, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(zapcore.InfoLevel))
}

// NewLoggerTo builds a Logger writing to w at the given level.
func NewLoggerTo(p string, w zapcore.WriteSyncer, lvl zap.AtomicLevel) *Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), w, lvl)
	return &Logger{prefix: p, s: zap.New(core).Sugar(), level: lvl}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{s: zap.NewNop().Sugar(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// ParseLevel accepts the usual names (DEBUG, INFO, WARNING, WARN, ERROR,
// CRITICAL) in any case.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Named returns a logger sharing the same output under another prefix.
func (l *Logger) Named(p string) *Logger {
	return &Logger{prefix: p, s: l.s, level: l.level}
}

// Verbose reports whether full message bodies should be logged.
func (l *Logger) Verbose() bool { return l.level.Enabled(zapcore.DebugLevel) }

func (l *Logger) p() string {
	if l.prefix == "" {
		return ""
	}
	return "[" + l.prefix + "] "
}
func (l *Logger) Debugf(f string, v ...any) { l.s.Debugf(l.p()+f, v...) }
func (l *Logger) Infof(f string, v ...any)  { l.s.Infof(l.p()+f, v...) }
func (l *Logger) Warnf(f string, v ...any)  { l.s.Warnf(l.p()+f, v...) }
func (l *Logger) Errorf(f string, v ...any) { l.s.Errorf(l.p()+f, v...) }

func (l *Logger) Sync() error { return l.s.Sync() }
