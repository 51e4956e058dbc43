package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the signal bus and its actors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SignalsDispatched *prometheus.CounterVec
	HandlerFaults     *prometheus.CounterVec
	SignalsUnrouted   prometheus.Counter
	SignalsRejected   prometheus.Counter
	MonitorFailures   prometheus.Counter
	ActorOperations   *prometheus.CounterVec
	Subscriptions     prometheus.Gauge
	DispatchDuration  prometheus.Histogram
}

// New creates and registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction never collides.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignalsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_signals_dispatched_total",
			Help: "Total number of signals delivered by the bus, by type",
		}, []string{"type"}),
		HandlerFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_signal_handler_faults_total",
			Help: "Total number of subscriber errors or panics caught during dispatch, by type",
		}, []string{"type"}),
		SignalsUnrouted: f.NewCounter(prometheus.CounterOpts{
			Name: "civitas_signals_unrouted_total",
			Help: "Total number of signals dispatched to a type with no subscribers",
		}),
		SignalsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "civitas_signals_rejected_total",
			Help: "Total number of signals rejected before delivery (e.g. empty type)",
		}),
		MonitorFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "civitas_monitor_failures_total",
			Help: "Total number of monitor tap sink failures",
		}),
		ActorOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civitas_actor_operations_total",
			Help: "Total number of actor collaborator operations, by actor and outcome",
		}, []string{"actor", "outcome"}),
		Subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "civitas_subscriptions",
			Help: "Current number of bus subscriptions",
		}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "civitas_dispatch_duration_seconds",
			Help:    "Time spent delivering a signal to all of its subscribers",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

func (m *Metrics) IncDispatched(signalType string) {
	if m == nil {
		return
	}
	m.SignalsDispatched.WithLabelValues(signalType).Inc()
}

func (m *Metrics) IncHandlerFault(signalType string) {
	if m == nil {
		return
	}
	m.HandlerFaults.WithLabelValues(signalType).Inc()
}

func (m *Metrics) IncUnrouted() {
	if m == nil {
		return
	}
	m.SignalsUnrouted.Inc()
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.SignalsRejected.Inc()
}

func (m *Metrics) IncMonitorFailure() {
	if m == nil {
		return
	}
	m.MonitorFailures.Inc()
}

// IncActorOperation records the outcome ("success", "error", "rejected") of an
// actor's collaborator call.
func (m *Metrics) IncActorOperation(actor, outcome string) {
	if m == nil {
		return
	}
	m.ActorOperations.WithLabelValues(actor, outcome).Inc()
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.Subscriptions.Set(float64(n))
}

func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchDuration.Observe(d.Seconds())
}
