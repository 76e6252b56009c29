// ABOUTME: Prometheus counters describing conversation sync activity
// ABOUTME: All methods are safe on a nil *Metrics so components can run without metrics

// Package metrics exposes counters for push delivery, echo reconciliation,
// stale fetches, send failures and channel reconnects.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/2389/roomsync/internal/model"
)

const namespace = "roomsync"

// Drop reasons for pushed messages.
const (
	DropOtherConversation = "other_conversation"
	DropInvalid           = "invalid"
	DropDuplicate         = "duplicate"
)

// Metrics holds the sync counters.
type Metrics struct {
	pushesApplied    prometheus.Counter
	pushesDropped    *prometheus.CounterVec
	echoesReconciled prometheus.Counter
	staleFetches     prometheus.Counter
	fetchErrors      *prometheus.CounterVec
	sendFailures     prometheus.Counter
	reconnects       prometheus.Counter
	roomJoins        prometheus.Counter
}

// New creates the counters and registers them with reg. A nil reg creates
// unregistered counters.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pushesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_applied_total",
			Help:      "Pushed messages applied to the selected conversation.",
		}),
		pushesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_dropped_total",
			Help:      "Pushed messages not applied to the view, by reason.",
		}, []string{"reason"}),
		echoesReconciled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "echoes_reconciled_total",
			Help:      "Optimistic local messages promoted by their authoritative copy.",
		}),
		staleFetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_fetches_discarded_total",
			Help:      "History fetches discarded because the selection changed.",
		}),
		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed directory and history fetches, by kind.",
		}, []string{"kind"}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Local messages the channel could not transmit.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_reconnects_total",
			Help:      "Push channel reconnections after a lost connection.",
		}),
		roomJoins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_joins_total",
			Help:      "Room joins issued to the push channel.",
		}),
	}
}

// ErrorKind maps an error onto the label used by fetch_errors_total.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrNetwork):
		return "network"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

func (m *Metrics) PushApplied() {
	if m != nil {
		m.pushesApplied.Inc()
	}
}

func (m *Metrics) PushDropped(reason string) {
	if m != nil {
		m.pushesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) EchoesReconciled(n int) {
	if m != nil && n > 0 {
		m.echoesReconciled.Add(float64(n))
	}
}

func (m *Metrics) StaleFetch() {
	if m != nil {
		m.staleFetches.Inc()
	}
}

func (m *Metrics) FetchError(err error) {
	if m != nil {
		m.fetchErrors.WithLabelValues(ErrorKind(err)).Inc()
	}
}

func (m *Metrics) SendFailure() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) RoomJoin() {
	if m != nil {
		m.roomJoins.Inc()
	}
}

// Counts returns the current counter values keyed by short name. Labeled
// counters are keyed "name:label". Returns nil on a nil *Metrics.
func (m *Metrics) Counts() map[string]float64 {
	if m == nil {
		return nil
	}

	out := map[string]float64{
		"pushes_applied":    counterValue(m.pushesApplied),
		"echoes_reconciled": counterValue(m.echoesReconciled),
		"stale_fetches":     counterValue(m.staleFetches),
		"send_failures":     counterValue(m.sendFailures),
		"reconnects":        counterValue(m.reconnects),
		"room_joins":        counterValue(m.roomJoins),
	}
	collectVec(out, "pushes_dropped", m.pushesDropped)
	collectVec(out, "fetch_errors", m.fetchErrors)
	return out
}

func counterValue(c prometheus.Metric) float64 {
	var d dto.Metric
	if err := c.Write(&d); err != nil {
		return 0
	}
	return d.GetCounter().GetValue()
}

func collectVec(out map[string]float64, name string, vec *prometheus.CounterVec) {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var d dto.Metric
		if err := metric.Write(&d); err != nil || len(d.GetLabel()) == 0 {
			continue
		}
		out[name+":"+d.GetLabel()[0].GetValue()] = d.GetCounter().GetValue()
	}
}
