package xlog

import (
	"strings"

	"github.com/DragonSecurity/gwbridge/pkg/util"
)

// LogWriter forwards writes to a util.Logger at a fixed level, so libraries
// that want an io.Writer or *log.Logger end up in the bridge log.
// It is safe for concurrent use as long as the underlying Logger is.
type LogWriter struct {
	xl      *util.Logger
	logFunc func(string)
}

func (w LogWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.logFunc(msg)
	}
	return len(p), nil
}

func NewDebugWriter(xl *util.Logger) LogWriter {
	return LogWriter{
		xl:      xl,
		logFunc: func(msg string) { xl.Debugf("%s", msg) },
	}
}

func NewErrorWriter(xl *util.Logger) LogWriter {
	return LogWriter{
		xl:      xl,
		logFunc: func(msg string) { xl.Errorf("%s", msg) },
	}
}
