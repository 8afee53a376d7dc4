package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeAcquired  = "acquired"
	outcomeReclaimed = "reclaimed"
)

// Metrics holds the Prometheus collectors updated by a Template. A nil *Metrics records nothing.
type Metrics struct {
	acquisitions     *prometheus.CounterVec
	waitSeconds      *prometheus.HistogramVec
	held             *prometheus.GaugeVec
	failures         *prometheus.CounterVec
	releaseAnomalies *prometheus.CounterVec
}

// NewMetrics creates the lock collectors and registers them with reg.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	tmpl := lock.New(lock.Config{
//		Store:   store,
//		Metrics: lock.NewMetrics(reg),
//	})
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemalock",
			Name:      "acquisitions_total",
			Help:      "Number of times a lock was taken, by how it was taken.",
		}, []string{"resource", "outcome"}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schemalock",
			Name:      "wait_seconds",
			Help:      "Time spent between the start of Execute and holding the lock.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"resource"}),
		held: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "schemalock",
			Name:      "held",
			Help:      "Whether this process currently holds the lock.",
		}, []string{"resource"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemalock",
			Name:      "failures_total",
			Help:      "Failures reported by Execute, by lifecycle phase.",
		}, []string{"resource", "phase"}),
		releaseAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schemalock",
			Name:      "release_anomalies_total",
			Help:      "Releases that found the row already unlocked.",
		}, []string{"resource"}),
	}

	if reg != nil {
		reg.MustRegister(m.acquisitions, m.waitSeconds, m.held, m.failures, m.releaseAnomalies)
	}

	return m
}

func (m *Metrics) acquired(resource string, reclaimed bool, waited time.Duration) {
	if m == nil {
		return
	}

	outcome := outcomeAcquired
	if reclaimed {
		outcome = outcomeReclaimed
	}

	m.acquisitions.WithLabelValues(resource, outcome).Inc()
	m.waitSeconds.WithLabelValues(resource).Observe(waited.Seconds())
	m.held.WithLabelValues(resource).Set(1)
}

func (m *Metrics) released(resource string) {
	if m == nil {
		return
	}

	m.held.WithLabelValues(resource).Set(0)
}

func (m *Metrics) failed(resource string, phase Phase) {
	if m == nil {
		return
	}

	m.failures.WithLabelValues(resource, string(phase)).Inc()
}

func (m *Metrics) anomaly(resource string) {
	if m == nil {
		return
	}

	m.releaseAnomalies.WithLabelValues(resource).Inc()
}
