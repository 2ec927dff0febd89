package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/messageless/internal/runtime/wire"
)

// NodeMetrics tracks invocation and callback statistics of one node. All
// methods are safe on a nil receiver.
type NodeMetrics struct {
	mu sync.RWMutex

	counts MetricsSnapshot

	// Prometheus collectors
	invocationsSent  prometheus.Counter
	callbacksSent    prometheus.Counter
	dispatchedTotal  *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	staleTotal       prometheus.Counter
	timeoutsTotal    prometheus.Counter
	dispatchDuration *prometheus.HistogramVec
	pendingCallbacks prometheus.GaugeFunc

	pending    func() int
	registered bool
}

// MetricsSnapshot provides a point-in-time view of node metrics.
type MetricsSnapshot struct {
	InvocationsSent  uint64            `json:"invocations_sent"`
	CallbacksSent    uint64            `json:"callbacks_sent"`
	Dispatched       map[string]uint64 `json:"dispatched"`
	Failures         map[string]uint64 `json:"failures"`
	StaleCallbacks   uint64            `json:"stale_callbacks"`
	TimeoutsFired    uint64            `json:"timeouts_fired"`
	PendingCallbacks int               `json:"pending_callbacks"`
	CollectedAt      time.Time         `json:"collected_at"`
}

func nodeOpts(localPath, name, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace:   "messageless",
		Subsystem:   "node",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"node": localPath},
	}
}

// NewNodeMetrics creates the collectors for the node at localPath. pending
// reports the number of stored callbacks.
func NewNodeMetrics(localPath string, pending func() int) *NodeMetrics {
	if pending == nil {
		pending = func() int { return 0 }
	}
	m := &NodeMetrics{
		counts: MetricsSnapshot{
			Dispatched: map[string]uint64{},
			Failures:   map[string]uint64{},
		},
		pending: pending,
		invocationsSent: prometheus.NewCounter(prometheus.CounterOpts(
			nodeOpts(localPath, "invocations_sent_total", "Total number of invocation messages sent"))),
		callbacksSent: prometheus.NewCounter(prometheus.CounterOpts(
			nodeOpts(localPath, "callbacks_sent_total", "Total number of callback messages sent"))),
		dispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts(
			nodeOpts(localPath, "dispatched_total", "Total number of envelopes dispatched")), []string{"kind"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts(
			nodeOpts(localPath, "dispatch_failures_total", "Total number of envelopes whose dispatch failed")), []string{"kind"}),
		staleTotal: prometheus.NewCounter(prometheus.CounterOpts(
			nodeOpts(localPath, "stale_callbacks_total", "Total number of callbacks ignored because their token was already consumed"))),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts(
			nodeOpts(localPath, "timeouts_fired_total", "Total number of callback timeouts that fired"))),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "messageless",
			Subsystem:   "node",
			Name:        "dispatch_duration_seconds",
			Help:        "Time spent dispatching one envelope",
			ConstLabels: prometheus.Labels{"node": localPath},
			Buckets:     prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	m.pendingCallbacks = prometheus.NewGaugeFunc(prometheus.GaugeOpts(
		nodeOpts(localPath, "pending_callbacks", "Number of callbacks awaiting invocation")),
		func() float64 { return float64(m.pending()) })
	return m
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *NodeMetrics) Register(registerer prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.invocationsSent,
		m.callbacksSent,
		m.dispatchedTotal,
		m.failuresTotal,
		m.staleTotal,
		m.timeoutsTotal,
		m.dispatchDuration,
		m.pendingCallbacks,
	}

	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// InvocationSent records an invocation handed to the transport.
func (m *NodeMetrics) InvocationSent() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counts.InvocationsSent++
	m.mu.Unlock()
	m.invocationsSent.Inc()
}

// CallbackSent records a callback handed to the transport.
func (m *NodeMetrics) CallbackSent() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counts.CallbacksSent++
	m.mu.Unlock()
	m.callbacksSent.Inc()
}

// Dispatched records a successfully handled envelope.
func (m *NodeMetrics) Dispatched(kind wire.Kind, took time.Duration) {
	if m == nil {
		return
	}
	label := kindLabel(kind)
	m.mu.Lock()
	m.counts.Dispatched[label]++
	m.mu.Unlock()
	m.dispatchedTotal.WithLabelValues(label).Inc()
	m.dispatchDuration.WithLabelValues(label).Observe(took.Seconds())
}

// DispatchFailed records an envelope whose dispatch failed.
func (m *NodeMetrics) DispatchFailed(kind wire.Kind, took time.Duration) {
	if m == nil {
		return
	}
	label := kindLabel(kind)
	m.mu.Lock()
	m.counts.Failures[label]++
	m.mu.Unlock()
	m.failuresTotal.WithLabelValues(label).Inc()
	m.dispatchDuration.WithLabelValues(label).Observe(took.Seconds())
}

// StaleCallback records a callback whose token was unknown.
func (m *NodeMetrics) StaleCallback() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counts.StaleCallbacks++
	m.mu.Unlock()
	m.staleTotal.Inc()
}

// TimeoutFired records a synthetic timeout message.
func (m *NodeMetrics) TimeoutFired() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counts.TimeoutsFired++
	m.mu.Unlock()
	m.timeoutsTotal.Inc()
}

// Snapshot returns a point-in-time copy of the counters.
func (m *NodeMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{CollectedAt: time.Now()}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.counts
	snapshot.Dispatched = make(map[string]uint64, len(m.counts.Dispatched))
	for k, v := range m.counts.Dispatched {
		snapshot.Dispatched[k] = v
	}
	snapshot.Failures = make(map[string]uint64, len(m.counts.Failures))
	for k, v := range m.counts.Failures {
		snapshot.Failures[k] = v
	}
	snapshot.PendingCallbacks = m.pending()
	snapshot.CollectedAt = time.Now()
	return snapshot
}

func kindLabel(kind wire.Kind) string {
	if kind == "" {
		return "unknown"
	}
	return string(kind)
}
