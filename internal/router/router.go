// Package router turns one inbound frame into exactly one outbound frame.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DragonSecurity/gwbridge/internal/routing"
	"github.com/DragonSecurity/gwbridge/internal/stats"
	"github.com/DragonSecurity/gwbridge/pkg/proto"
	"github.com/DragonSecurity/gwbridge/pkg/util"
)

// Log markers counted by the external log viewer. They must stay byte for
// byte as they are.
const (
	ReceivedMarker = "📥 RECEIVED from WS server:"
	SentMarker     = "📤 SENT back to WS server:"
)

// Resolver picks the gateway for an operation type.
type Resolver interface {
	Resolve(op string) (routing.Target, error)
}

// Forwarder delivers a payload to a gateway. It must always return an
// envelope and count its own failures.
type Forwarder interface {
	Forward(ctx context.Context, payload json.RawMessage, target routing.Target) proto.Outbound
}

type Router struct {
	routes Resolver
	fwd    Forwarder
	stats  *stats.Recorder
	log    *util.Logger
}

func New(routes Resolver, fwd Forwarder, rec *stats.Recorder, log *util.Logger) *Router {
	return &Router{routes: routes, fwd: fwd, stats: rec, log: log}
}

// Route never fails: every problem becomes an error envelope for the peer.
// The forward is detached from ctx cancellation so a stop request cannot cut
// a gateway call short; the route timeout still bounds it.
func (r *Router) Route(ctx context.Context, raw []byte) proto.Outbound {
	in, err := proto.ParseInbound(raw)
	if err != nil {
		r.stats.IncErrors()
		r.log.Errorf("invalid JSON from server: %v", err)
		return proto.Fail(proto.KindInvalidJSON, "Failed to parse JSON: %v", err)
	}
	if in.IsPing() {
		r.log.Debugf("ping from server, sending pong")
		return proto.Pong()
	}

	r.stats.IncReceived()
	op, kiosk := in.OperationType(), in.KioskID()
	r.log.Infof(ReceivedMarker+" operation=%s kiosk=%s", orDash(op), orDash(kiosk))
	if r.log.Verbose() {
		r.log.Debugf("message: %s", raw)
	}

	out := r.dispatch(ctx, in, op)
	r.stats.IncSent()
	r.log.Infof(SentMarker+" operation=%s result=%s", orDash(op), out.Kind())
	if r.log.Verbose() {
		if b, err := json.Marshal(out); err == nil {
			r.log.Debugf("reply: %s", b)
		}
	}
	return out
}

func (r *Router) dispatch(ctx context.Context, in *proto.Inbound, op string) proto.Outbound {
	if op == "" {
		r.log.Errorf("missing %s", proto.HeaderOperationType)
		return proto.Fail(proto.KindMissingHeader, "%s is required", proto.HeaderOperationType)
	}

	target, err := r.routes.Resolve(op)
	if err != nil {
		r.stats.IncErrors()
		if errors.Is(err, routing.ErrNoRoute) {
			r.log.Errorf("route not found for operation type: %s", op)
			return proto.Fail(proto.KindRouteNotFound, "No route configured for operation type: %s", op)
		}
		r.log.Errorf("resolving %s: %v", op, err)
		return proto.Fail(proto.KindOther, "%v", err)
	}

	payload, err := in.Payload()
	if err != nil {
		r.stats.IncErrors()
		r.log.Errorf("building payload for %s: %v", op, err)
		return proto.Fail(proto.KindOther, "%v", err)
	}

	start := time.Now()
	out := r.fwd.Forward(context.WithoutCancel(ctx), payload, target)
	r.stats.ObserveForward(target.URL, out.Kind(), time.Since(start))
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
