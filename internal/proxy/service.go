// Package proxy wires the bridge together and owns its run and stop
// lifecycle.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/DragonSecurity/gwbridge/internal/forwarder"
	"github.com/DragonSecurity/gwbridge/internal/router"
	"github.com/DragonSecurity/gwbridge/internal/routing"
	"github.com/DragonSecurity/gwbridge/internal/session"
	"github.com/DragonSecurity/gwbridge/internal/stats"
	"github.com/DragonSecurity/gwbridge/pkg/config"
	"github.com/DragonSecurity/gwbridge/pkg/config/validation"
	"github.com/DragonSecurity/gwbridge/pkg/transport"
	"github.com/DragonSecurity/gwbridge/pkg/util"
)

const DefaultShutdownGrace = 5 * time.Second

type Config struct {
	config.Runtime

	Forwarder forwarder.Options
	// Session overrides keepalive and backoff tuning; connection settings
	// always come from Runtime.
	Session       session.Config
	ShutdownGrace time.Duration
}

type Service struct {
	cfg Config
	log *util.Logger

	reg      *prom.Registry
	stats    *stats.Recorder
	store    *routing.Store
	fwd      *forwarder.Forwarder
	session  *session.Session
	reporter *stats.Reporter
	status   *http.Server
}

// New validates cfg and loads the routing table before building anything
// else. A *routing.ConfigError or a validation error is fatal to the caller.
func New(cfg Config, log *util.Logger) (*Service, error) {
	warnings, err := validation.ValidateRuntime(&cfg.Runtime)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range warnings {
		log.Warnf("%s", w)
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	store, err := routing.NewStore(cfg.RoutingPath, log.Named("routing"))
	if err != nil {
		return nil, err
	}

	tlsCfg, err := transport.NewClientTLSConfig(transport.ClientTLSOptions{
		CAFile:             cfg.CAFile,
		CertFile:           cfg.ClientCertFile,
		KeyFile:            cfg.ClientKeyFile,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := stats.NewRecorder(reg)

	fwd := forwarder.New(cfg.Forwarder, rec, log.Named("gateway"))
	rtr := router.New(store, fwd, rec, log.Named("router"))

	scfg := cfg.Session
	scfg.ServerURL = cfg.ServerURL
	scfg.Token = cfg.Token
	scfg.TLS = tlsCfg
	sess, err := session.New(scfg, rtr, rec, log.Named("ws"))
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		stats:    rec,
		store:    store,
		fwd:      fwd,
		session:  sess,
		reporter: stats.NewReporter(rec, log.Named("stats"), cfg.StatsInterval),
	}
	if cfg.StatusAddr != "" {
		s.status = s.newStatusServer(cfg.StatusAddr)
	}
	return s, nil
}

func (s *Service) Stats() stats.Snapshot { return s.stats.Snapshot() }

func (s *Service) State() session.State { return s.session.State() }

// Run blocks until ctx is cancelled, then shuts down in order: the
// connection first, then the gateway pool. It returns nil on a clean stop.
func (s *Service) Run(ctx context.Context) error {
	t := s.store.Table()
	s.log.Infof("gateway bridge starting")
	s.log.Infof("routing config %s loaded with %d routes", s.store.Path(), t.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.session.Run(gctx) })
	g.Go(func() error { return s.reporter.Run(gctx) })
	g.Go(func() error { return s.reloadOnSignal(gctx) })
	if s.cfg.RoutingWatch {
		w := routing.NewWatcher(s.store, s.log.Named("routing"))
		g.Go(func() error {
			// Without the watcher, routes still reload on SIGHUP and /reload.
			if err := w.Run(gctx); err != nil {
				s.log.Errorf("routing file watch disabled: %v", err)
			}
			return nil
		})
	}
	if s.status != nil {
		g.Go(func() error { return serveAndWait(gctx, s.status, s.cfg.ShutdownGrace, s.log.Named("status")) })
	}

	err := g.Wait()
	s.log.Infof("stopping bridge")
	s.fwd.Close(s.cfg.ShutdownGrace)
	s.reporter.Report()
	s.log.Infof("gateway bridge stopped")
	return err
}

func (s *Service) reloadOnSignal(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			s.log.Infof("SIGHUP received, reloading routes")
			_ = s.store.Reload()
		}
	}
}
