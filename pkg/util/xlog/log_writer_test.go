package xlog

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DragonSecurity/gwbridge/pkg/util"
)

func TestLogWriterLevels(t *testing.T) {
	var buf bytes.Buffer
	l := util.NewLoggerTo("status", zapcore.AddSync(&buf), zap.NewAtomicLevelAt(zapcore.InfoLevel))

	std := log.New(NewErrorWriter(l), "", 0)
	std.Printf("http: accept error: %s", "too many files")

	n, err := NewDebugWriter(l).Write([]byte("not shown\n"))
	assert.NoError(t, err)
	assert.Equal(t, len("not shown\n"), n)

	out := strings.TrimSpace(buf.String())
	assert.Equal(t, 1, strings.Count(out, "\n")+1)
	assert.Contains(t, out, "ERROR - [status] http: accept error: too many files")
}
