// Package stats keeps the bridge's process-lifetime counters.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

type Snapshot struct {
	Received      uint64 `json:"received"`
	Sent          uint64 `json:"sent"`
	Errors        uint64 `json:"errors"`
	Reconnections uint64 `json:"reconnections"`
}

func (s Snapshot) String() string {
	return fmt.Sprintf("received=%d sent=%d errors=%d reconnections=%d", s.Received, s.Sent, s.Errors, s.Reconnections)
}

// Recorder counters only ever grow. All methods are safe for concurrent use.
type Recorder struct {
	received      atomic.Uint64
	sent          atomic.Uint64
	errors        atomic.Uint64
	reconnections atomic.Uint64

	m *metrics
}

type metrics struct {
	received      prom.Counter
	sent          prom.Counter
	errors        prom.Counter
	reconnections prom.Counter
	forward       *prom.HistogramVec
}

// NewRecorder mirrors the counters into reg when it is non-nil.
func NewRecorder(reg prom.Registerer) *Recorder {
	r := &Recorder{}
	if reg == nil {
		return r
	}
	r.m = &metrics{
		received: prom.NewCounter(prom.CounterOpts{
			Name: "gwbridge_messages_received_total",
			Help: "Business messages received from the server.",
		}),
		sent: prom.NewCounter(prom.CounterOpts{
			Name: "gwbridge_messages_sent_total",
			Help: "Replies produced for business messages.",
		}),
		errors: prom.NewCounter(prom.CounterOpts{
			Name: "gwbridge_errors_total",
			Help: "Per-message failures.",
		}),
		reconnections: prom.NewCounter(prom.CounterOpts{
			Name: "gwbridge_reconnections_total",
			Help: "Connections lost while running.",
		}),
		forward: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "gwbridge_forward_seconds",
			Help:    "Duration of gateway forwards.",
			Buckets: prom.DefBuckets,
		}, []string{"gateway", "result"}),
	}
	reg.MustRegister(r.m.received, r.m.sent, r.m.errors, r.m.reconnections, r.m.forward)
	return r
}

func (r *Recorder) IncReceived() {
	r.received.Add(1)
	if r.m != nil {
		r.m.received.Inc()
	}
}

func (r *Recorder) IncSent() {
	r.sent.Add(1)
	if r.m != nil {
		r.m.sent.Inc()
	}
}

func (r *Recorder) IncErrors() {
	r.errors.Add(1)
	if r.m != nil {
		r.m.errors.Inc()
	}
}

func (r *Recorder) IncReconnections() {
	r.reconnections.Add(1)
	if r.m != nil {
		r.m.reconnections.Inc()
	}
}

// ObserveForward records how long a gateway call took. gateway is the target
// URL so label cardinality stays bounded by the routing file.
func (r *Recorder) ObserveForward(gateway, result string, d time.Duration) {
	if r.m != nil {
		r.m.forward.WithLabelValues(gateway, result).Observe(d.Seconds())
	}
}

func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		Received:      r.received.Load(),
		Sent:          r.sent.Load(),
		Errors:        r.errors.Load(),
		Reconnections: r.reconnections.Load(),
	}
}
