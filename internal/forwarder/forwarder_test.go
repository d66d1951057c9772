package forwarder

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DragonSecurity/gwbridge/internal/routing"
	"github.com/DragonSecurity/gwbridge/internal/stats"
	"github.com/DragonSecurity/gwbridge/pkg/proto"
	"github.com/DragonSecurity/gwbridge/pkg/util"
)

func newTestForwarder() (*Forwarder, *stats.Recorder) {
	rec := stats.NewRecorder(nil)
	return New(DefaultOptions(), rec, util.NewNopLogger()), rec
}

func TestForwardPassesResponseThrough(t *testing.T) {
	var gotBody []byte
	var gotCT, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCT = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok",  "txn": {"id": 7}}`))
	}))
	defer srv.Close()

	f, rec := newTestForwarder()
	defer f.Close(time.Second)

	out := f.Forward(context.Background(), json.RawMessage(`{"amount":10}`), routing.Target{URL: srv.URL + "/pay", Timeout: 5 * time.Second})
	require.False(t, out.IsError(), "unexpected error: %+v", out.Err)
	assert.Equal(t, `{"status":"ok","txn":{"id":7}}`, string(out.Response))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotCT)
	assert.JSONEq(t, `{"amount":10}`, string(gotBody))
	assert.Equal(t, uint64(0), rec.Snapshot().Errors)
}

func TestForwardErrors(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("gateway exploded"))
	}))
	defer failing.Close()

	notJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer notJSON.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name    string
		target  routing.Target
		kind    proto.ErrorKind
		message string
	}{
		{
			name:    "timeout",
			target:  routing.Target{URL: slow.URL, Timeout: 50 * time.Millisecond},
			kind:    proto.KindTimeout,
			message: "Gateway timeout after 0.05s",
		},
		{
			name:    "non-200",
			target:  routing.Target{URL: failing.URL, Timeout: time.Second},
			kind:    proto.KindHTTPError,
			message: "HTTP 500: gateway exploded",
		},
		{
			name:   "refused",
			target: routing.Target{URL: closedURL, Timeout: time.Second},
			kind:   proto.KindConnectionRefused,
		},
		{
			name:   "unresolvable host",
			target: routing.Target{URL: "http://gateway.invalid/pay", Timeout: 2 * time.Second},
			kind:   proto.KindConnectionRefused,
		},
		{
			name:   "200 without JSON",
			target: routing.Target{URL: notJSON.URL, Timeout: time.Second},
			kind:   proto.KindOther,
		},
		{
			name:   "bad url",
			target: routing.Target{URL: "http://[::1", Timeout: time.Second},
			kind:   proto.KindOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, rec := newTestForwarder()
			defer f.Close(time.Second)

			out := f.Forward(context.Background(), json.RawMessage(`{}`), tt.target)
			require.True(t, out.IsError())
			assert.Equal(t, "error", out.Err.Status)
			assert.Equal(t, tt.kind, out.Err.Error, out.Err.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, out.Err.Message)
			}
			assert.Equal(t, uint64(1), rec.Snapshot().Errors)
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "5s", formatSeconds(5*time.Second))
	assert.Equal(t, "1.5s", formatSeconds(1500*time.Millisecond))
}

func TestForwardReusesConnections(t *testing.T) {
	var newConns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	srv.Config.ConnState = func(_ net.Conn, st http.ConnState) {
		if st == http.StateNew {
			newConns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	f, _ := newTestForwarder()
	for i := 0; i < 5; i++ {
		out := f.Forward(context.Background(), json.RawMessage(`{}`), routing.Target{URL: srv.URL, Timeout: time.Second})
		require.False(t, out.IsError())
	}
	assert.Equal(t, int32(1), newConns.Load())
	assert.Equal(t, 1, f.dialer.active())

	f.Close(time.Second)
	assert.Equal(t, 0, f.dialer.active())
}

func TestCloseWithoutUse(t *testing.T) {
	f, _ := newTestForwarder()
	f.Close(10 * time.Millisecond)
}

func TestDialerGlobalCap(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			t.Cleanup(func() { _ = c.Close() })
		}
	}()

	opts := DefaultOptions()
	opts.MaxConns = 1
	d := newDialer(opts)

	c1, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = d.DialContext(ctx, "tcp", ln.Addr().String())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c1.Close())
	_ = c1.Close()

	c2, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, 1, d.active())
	d.closeAll()
	assert.Equal(t, 0, d.active())
	_ = c2
}

func TestDialerCachesLookups(t *testing.T) {
	d := newDialer(DefaultOptions())
	ips, err := d.lookup(context.Background(), "localhost")
	require.NoError(t, err)
	require.NotEmpty(t, ips)

	cached, ok := d.cache.Get("localhost")
	require.True(t, ok)
	assert.Equal(t, ips, cached)
}

func TestForwardIdleSocketsDoNotStarveNewHosts(t *testing.T) {
	var gateways []*httptest.Server
	for i := 0; i < 3; i++ {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))
		defer srv.Close()
		gateways = append(gateways, srv)
	}

	rec := stats.NewRecorder(nil)
	f := New(Options{MaxConns: 2, MaxConnsPerHost: 1}, rec, util.NewNopLogger())
	defer f.Close(time.Second)

	for i, gw := range gateways {
		out := f.Forward(context.Background(), json.RawMessage(`{}`), routing.Target{URL: gw.URL, Timeout: time.Second})
		require.False(t, out.IsError(), "gateway %d: %+v", i, out.Err)
		assert.Equal(t, `{"status":"ok"}`, string(out.Response))
	}
	assert.LessOrEqual(t, f.dialer.active(), 2)
	assert.Equal(t, uint64(0), rec.Snapshot().Errors)
}

func TestDialerReclaimsIdleSlot(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			t.Cleanup(func() { _ = c.Close() })
		}
	}()

	opts := DefaultOptions()
	opts.MaxConns = 1
	d := newDialer(opts)
	idle, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)

	var reclaimed atomic.Int32
	d.reclaim = func() {
		reclaimed.Add(1)
		_ = idle.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := d.DialContext(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, int32(1), reclaimed.Load())
	assert.Equal(t, 1, d.active())
}
