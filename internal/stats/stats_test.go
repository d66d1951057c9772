package stats

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DragonSecurity/gwbridge/pkg/util"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(nil)
	r.IncReceived()
	r.IncReceived()
	r.IncSent()
	r.IncErrors()
	r.IncReconnections()
	r.ObserveForward("http://gw/pay", "ok", time.Second)

	assert.Equal(t, Snapshot{Received: 2, Sent: 1, Errors: 1, Reconnections: 1}, r.Snapshot())
	assert.Equal(t, "received=2 sent=1 errors=1 reconnections=1", r.Snapshot().String())
}

func TestRecorderConcurrentIncrements(t *testing.T) {
	r := NewRecorder(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.IncSent()
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), r.Snapshot().Sent)
}

func TestRecorderMirrorsPrometheus(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)
	r.IncReceived()
	r.IncErrors()
	r.IncErrors()
	r.ObserveForward("http://gw/pay", "timeout", 5*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.received))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.m.errors))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.m.sent))
	assert.Equal(t, 1, testutil.CollectAndCount(r.m.forward))

	n, err := testutil.GatherAndCount(reg, "gwbridge_reconnections_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestReporter(t *testing.T) {
	var buf syncBuffer
	log := util.NewLoggerTo("stats", zapcore.AddSync(&buf), zap.NewAtomicLevelAt(zapcore.InfoLevel))
	rec := NewRecorder(nil)
	rec.IncReceived()

	rep := NewReporter(rec, log, time.Second)
	rep.Report()
	assert.Contains(t, buf.String(), "[stats] stats: received=1 sent=0 errors=0 reconnections=0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rep.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "stats: received=1") >= 2
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
