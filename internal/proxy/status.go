package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/DragonSecurity/gwbridge/internal/routing"
	"github.com/DragonSecurity/gwbridge/internal/session"
	"github.com/DragonSecurity/gwbridge/internal/stats"
	"github.com/DragonSecurity/gwbridge/pkg/util"
	"github.com/DragonSecurity/gwbridge/pkg/util/xlog"
)

type statusBody struct {
	State   string          `json:"state"`
	Stats   stats.Snapshot  `json:"stats"`
	Routes  []routing.Route `json:"routes"`
	Default *routing.Route  `json:"default,omitempty"`
}

func (s *Service) newStatusServer(addr string) *http.Server {
	l := s.log.Named("status")
	return &http.Server{
		Addr:              addr,
		Handler:           s.routes(l),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(xlog.NewErrorWriter(l), "", 0),
	}
}

func (s *Service) routes(l *util.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		st := s.session.State()
		if st != session.Connected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte(st.String()))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		ErrorLog: log.New(xlog.NewErrorWriter(l), "", 0),
	}))
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		t := s.store.Table()
		body := statusBody{
			State:  s.session.State().String(),
			Stats:  s.stats.Snapshot(),
			Routes: t.Routes(),
		}
		if def, ok := t.Default(); ok {
			body.Default = &routing.Route{Operation: "*", URL: def.URL, Timeout: def.Timeout.String()}
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Post("/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Reload(); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"routes": s.store.Table().Len()})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func serveAndWait(ctx context.Context, srv *http.Server, grace time.Duration, log *util.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		log.Infof("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		err := srv.Shutdown(sctx)
		return multierr.Append(err, ignoreClosed(<-errCh))
	case err := <-errCh:
		return ignoreClosed(err)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
