// Package metric exposes the link's prometheus metrics and the HTTP server that serves
// them. A nil *Metrics is valid and records nothing, so callers never branch on whether
// metrics are enabled.
package metric

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hapticlink"

var axes = [3]string{"x", "y", "z"}

// Metrics holds the collectors of one process (master or slave).
type Metrics struct {
	ticks        prometheus.Counter
	overruns     prometheus.Counter
	tickDuration prometheus.Histogram
	sent         *prometheus.CounterVec
	received     *prometheus.CounterVec
	discarded    *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	suppressed   *prometheus.CounterVec
	roundTrip    prometheus.Gauge
	energy       *prometheus.GaugeVec
	mode         prometheus.Gauge
	deviceErrors prometheus.Counter
	connected    prometheus.Gauge
	linkLost     prometheus.Counter
}

// New creates and registers the collectors under the given role label.
// It returns nil, nil when reg is nil.
func New(reg prometheus.Registerer, role string) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"role": role}

	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop", Name: "ticks_total",
			ConstLabels: labels, Help: "Control loop iterations",
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loop", Name: "overruns_total",
			ConstLabels: labels, Help: "Ticks whose work exceeded the sample interval",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "loop", Name: "tick_duration_seconds",
			ConstLabels: labels, Help: "Work time per control tick",
			Buckets: prometheus.ExponentialBuckets(10e-6, 2, 12),
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "sent_total",
			ConstLabels: labels, Help: "Messages written to the peer",
		}, []string{"type"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "received_total",
			ConstLabels: labels, Help: "Whole messages decoded from the peer",
		}, []string{"type"}),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "discarded_total",
			ConstLabels: labels, Help: "Stale messages dropped by the keep-latest policy",
		}, []string{"type"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "messages", Name: "decode_errors_total",
			ConstLabels: labels, Help: "Frames that failed to decode",
		}, []string{"type"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "deadband", Name: "suppressed_total",
			ConstLabels: labels, Help: "Samples held back by a deadband",
		}, []string{"signal"}),
		roundTrip: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "link", Name: "round_trip_seconds",
			ConstLabels: labels, Help: "Last measured master-slave-master delay",
		}),
		energy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tdpa", Name: "energy_joules",
			ConstLabels: labels, Help: "Energy ledger values per axis",
		}, []string{"ledger", "axis"}),
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "control", Name: "mode",
			ConstLabels: labels, Help: "Active stabilizer (0=none, 1=tdpa, 2=iss)",
		}),
		deviceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "device", Name: "errors_total",
			ConstLabels: labels, Help: "Failed device reads or writes",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "link", Name: "connected",
			ConstLabels: labels, Help: "Peer connection status (0=down, 1=up)",
		}),
		linkLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link", Name: "lost_total",
			ConstLabels: labels, Help: "Connections that ended because the peer went away or failed",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.ticks, m.overruns, m.tickDuration, m.sent, m.received, m.discarded,
		m.decodeErrors, m.suppressed, m.roundTrip, m.energy, m.mode, m.deviceErrors, m.connected, m.linkLost,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Tick records one loop iteration that took work against a budget of interval.
func (m *Metrics) Tick(work, interval time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(work.Seconds())
	if work > interval {
		m.overruns.Inc()
	}
}

func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(kind).Inc()
}

func (m *Metrics) MessagesReceived(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.received.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) MessagesDiscarded(kind string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.discarded.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

// Suppressed counts a sample the named deadband did not transmit.
func (m *Metrics) Suppressed(signal string) {
	if m == nil {
		return
	}
	m.suppressed.WithLabelValues(signal).Inc()
}

func (m *Metrics) RoundTrip(d time.Duration) {
	if m == nil {
		return
	}
	m.roundTrip.Set(d.Seconds())
}

// Energy publishes one ledger vector (e.g. "in", "out", "recv").
func (m *Metrics) Energy(ledger string, e mgl64.Vec3) {
	if m == nil {
		return
	}
	for i, axis := range axes {
		m.energy.WithLabelValues(ledger, axis).Set(e[i])
	}
}

func (m *Metrics) Mode(v int) {
	if m == nil {
		return
	}
	m.mode.Set(float64(v))
}

func (m *Metrics) DeviceError() {
	if m == nil {
		return
	}
	m.deviceErrors.Inc()
}

func (m *Metrics) Connected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// LinkLost counts a connection that ended without a local shutdown.
func (m *Metrics) LinkLost() {
	if m == nil {
		return
	}
	m.linkLost.Inc()
}
