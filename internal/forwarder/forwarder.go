// Package forwarder POSTs message payloads to local gateways and turns every
// outcome into an envelope for the server.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/DragonSecurity/gwbridge/internal/routing"
	"github.com/DragonSecurity/gwbridge/internal/stats"
	"github.com/DragonSecurity/gwbridge/pkg/proto"
	"github.com/DragonSecurity/gwbridge/pkg/util"
)

type Options struct {
	// MaxConns bounds open gateway sockets across all hosts.
	MaxConns int
	// MaxConnsPerHost bounds sockets to a single gateway host.
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	DNSCacheTTL     time.Duration
	DNSCacheSize    int
}

func DefaultOptions() Options {
	return Options{
		MaxConns:        10,
		MaxConnsPerHost: 5,
		IdleConnTimeout: 90 * time.Second,
		DNSCacheTTL:     300 * time.Second,
		DNSCacheSize:    256,
	}
}

type Forwarder struct {
	opts  Options
	stats *stats.Recorder
	log   *util.Logger

	once      sync.Once
	dialer    *dialer
	transport *http.Transport
	client    *http.Client
}

func New(opts Options, rec *stats.Recorder, log *util.Logger) *Forwarder {
	def := DefaultOptions()
	if opts.MaxConns <= 0 {
		opts.MaxConns = def.MaxConns
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if opts.MaxConnsPerHost > opts.MaxConns {
		opts.MaxConnsPerHost = opts.MaxConns
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = def.IdleConnTimeout
	}
	if opts.DNSCacheTTL <= 0 {
		opts.DNSCacheTTL = def.DNSCacheTTL
	}
	if opts.DNSCacheSize <= 0 {
		opts.DNSCacheSize = def.DNSCacheSize
	}
	return &Forwarder{opts: opts, stats: rec, log: log}
}

func (f *Forwarder) init() {
	f.dialer = newDialer(f.opts)
	f.transport = &http.Transport{
		DialContext:         f.dialer.DialContext,
		MaxIdleConns:        f.opts.MaxConns,
		MaxIdleConnsPerHost: f.opts.MaxConnsPerHost,
		MaxConnsPerHost:     f.opts.MaxConnsPerHost,
		IdleConnTimeout:     f.opts.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	f.dialer.reclaim = f.transport.CloseIdleConnections
	f.client = &http.Client{Transport: f.transport}
}

func (f *Forwarder) httpClient() *http.Client {
	f.once.Do(f.init)
	return f.client
}

// Forward POSTs payload to target and always returns an envelope.
func (f *Forwarder) Forward(ctx context.Context, payload json.RawMessage, target routing.Target) proto.Outbound {
	f.log.Infof("forwarding to gateway: %s", target.URL)
	if f.log.Verbose() {
		f.log.Debugf("payload: %s", payload)
	}

	out, status := f.do(ctx, payload, target)
	if out.IsError() {
		f.stats.IncErrors()
		f.log.Errorf("gateway %s failed: %s: %s", target.URL, out.Err.Error, out.Err.Message)
		return out
	}
	f.log.Infof("gateway response: HTTP %d", status)
	if f.log.Verbose() {
		f.log.Debugf("response: %s", out.Response)
	}
	return out
}

func (f *Forwarder) do(ctx context.Context, payload json.RawMessage, target routing.Target) (proto.Outbound, int) {
	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		return proto.Fail(proto.KindOther, "%v", err), 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient().Do(req)
	if err != nil {
		return classify(err, target.Timeout), 0
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classify(err, target.Timeout), resp.StatusCode
	}
	if resp.StatusCode != http.StatusOK {
		return proto.Fail(proto.KindHTTPError, "HTTP %d: %s", resp.StatusCode, body), resp.StatusCode
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return proto.Fail(proto.KindOther, "invalid JSON from gateway: %v", err), resp.StatusCode
	}
	return proto.Reply(buf.Bytes()), resp.StatusCode
}

func classify(err error, timeout time.Duration) proto.Outbound {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return proto.Fail(proto.KindTimeout, "Gateway timeout after %s", formatSeconds(timeout))
	case isDialError(err):
		return proto.Fail(proto.KindConnectionRefused, "Cannot connect to gateway: %v", err)
	}
	return proto.Fail(proto.KindOther, "%v", err)
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH)
}

// formatSeconds renders 5s as "5s" and 1500ms as "1.5s".
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// Close releases the pool: idle sockets are closed at once, in-use sockets
// get until grace to finish and are then closed forcibly.
func (f *Forwarder) Close(grace time.Duration) {
	if f.transport == nil {
		return
	}
	f.transport.CloseIdleConnections()
	deadline := time.Now().Add(grace)
	for f.dialer.active() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		f.transport.CloseIdleConnections()
	}
	if n := f.dialer.active(); n > 0 {
		f.log.Warnf("forcing %d gateway connections closed", n)
		f.dialer.closeAll()
	}
}
