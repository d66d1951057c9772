// Package session owns the single outbound WebSocket connection to the cloud
// server and keeps it alive until stopped.
package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DragonSecurity/gwbridge/internal/stats"
	"github.com/DragonSecurity/gwbridge/pkg/proto"
	"github.com/DragonSecurity/gwbridge/pkg/util"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultPingInterval   = 20 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultCloseGrace     = 2 * time.Second

	writeTimeout = 10 * time.Second
)

// Dispatcher produces the reply for one inbound frame.
type Dispatcher interface {
	Route(ctx context.Context, raw []byte) proto.Outbound
}

type Config struct {
	ServerURL string
	Token     string
	TLS       *tls.Config

	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
	CloseGrace     time.Duration

	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	BackoffFactor  float64

	// Clock drives backoff sleeps and keepalive pings. Defaults to the wall
	// clock.
	Clock clock.Clock
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = DefaultBackoffFloor
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = DefaultBackoffCeiling
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

type Session struct {
	cfg     Config
	url     string
	display string
	router  Dispatcher
	stats   *stats.Recorder
	log     *util.Logger

	backoff *Backoff
	state   atomic.Int32
}

func New(cfg Config, router Dispatcher, rec *stats.Recorder, log *util.Logger) (*Session, error) {
	cfg.setDefaults()
	u, err := ConnectURL(cfg.ServerURL, cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:     cfg,
		url:     u.String(),
		display: redact(u),
		router:  router,
		stats:   rec,
		log:     log,
		backoff: NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling, cfg.BackoffFactor),
	}, nil
}

// ConnectURL maps http(s) to ws(s) and carries the token as a query
// parameter.
func ConnectURL(server, token string) (*url.URL, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server url %q: scheme must be ws, wss, http or https", server)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: missing host", server)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u, nil
}

func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	if q.Has("token") {
		q.Set("token", "***")
	}
	c.RawQuery = q.Encode()
	return c.String()
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Run connects and serves frames until ctx is cancelled, reconnecting with
// backoff whenever the connection fails or drops. It returns nil on stop.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(Closing)
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(Connecting)
		s.log.Infof("connecting to WS server: %s", s.display)
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.setState(Disconnected)
			s.log.Errorf("connection failed: %v", err)
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		s.backoff.Reset()
		s.setState(Connected)
		if !s.serve(ctx, conn) {
			return nil
		}

		s.stats.IncReconnections()
		s.setState(Disconnected)
		if !s.sleep(ctx) {
			return nil
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  s.cfg.TLS,
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := d.DialContext(ctx, s.url, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("connection timeout after %s", s.cfg.ConnectTimeout)
		}
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// sleep waits out the current backoff delay. It reports false when ctx was
// cancelled first.
func (s *Session) sleep(ctx context.Context) bool {
	d := s.backoff.Next()
	s.log.Infof("reconnecting in %s", d)
	t := s.cfg.Clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serve runs the read, route, write loop on one connection. It reports true
// when the connection was lost while still running and false when it ended
// because of a stop.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) bool {
	id := uuid.NewString()
	log := s.log.Named("conn " + id[:8])
	log.Infof("connected to cloud server")

	var (
		mu      sync.Mutex // held while a frame is routed and answered
		closing atomic.Bool
		done    = make(chan struct{})
		wg      sync.WaitGroup
	)
	defer func() {
		close(done)
		wg.Wait()
		_ = conn.Close()
	}()

	idle := s.cfg.PingInterval + s.cfg.PingTimeout
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.keepalive(conn, done, log)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		mu.Lock()
		closing.Store(true)
		s.setState(Closing)
		log.Infof("closing connection")
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseGrace))
		mu.Unlock()

		t := time.NewTimer(s.cfg.CloseGrace)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			log.Warnf("no close reply within %s, dropping connection", s.cfg.CloseGrace)
			_ = conn.Close()
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if closing.Load() || ctx.Err() != nil {
				return false
			}
			log.Warnf("WebSocket connection closed: %v", err)
			return true
		}

		mu.Lock()
		if closing.Load() {
			mu.Unlock()
			log.Debugf("dropping frame received while closing")
			continue
		}
		s.reply(ctx, conn, data, log)
		mu.Unlock()
	}
}

func (s *Session) reply(ctx context.Context, conn *websocket.Conn, data []byte, log *util.Logger) {
	out := s.router.Route(ctx, data)
	b, err := json.Marshal(out)
	if err != nil {
		log.Errorf("encoding reply: %v", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		// The next read sees the dead socket and drives the reconnect.
		log.Errorf("sending reply failed: %v", err)
	}
}

func (s *Session) keepalive(conn *websocket.Conn, done <-chan struct{}, log *util.Logger) {
	t := s.cfg.Clock.Ticker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PingTimeout)); err != nil {
				log.Debugf("ping failed: %v", err)
				return
			}
		}
	}
}
