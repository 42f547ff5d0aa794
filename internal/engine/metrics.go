package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	tokensTotal     prometheus.Counter
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	loadsTotal      *prometheus.CounterVec
	loadDuration    prometheus.Histogram
	modelLoaded     prometheus.Gauge
	memoryBytes     prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "tokens_total",
			Help:      "Total number of tokens sampled",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "sessions_total",
			Help:      "Generation sessions by outcome",
		}, []string{"outcome"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "session_duration_seconds",
			Help:      "Wall time of generation sessions",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "model_loads_total",
			Help:      "Model load attempts by result",
		}, []string{"result"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "model_load_duration_seconds",
			Help:      "Time spent loading models",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		modelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "model_loaded",
			Help:      "1 when a model is loaded",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wishmaster",
			Subsystem: "engine",
			Name:      "context_state_bytes",
			Help:      "Backend-reported state size of the computation context",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.tokensTotal, m.sessionsTotal, m.sessionDuration,
			m.loadsTotal, m.loadDuration, m.modelLoaded, m.memoryBytes)
	}
	return m
}

func (m *Metrics) token() {
	if m == nil {
		return
	}
	m.tokensTotal.Inc()
}

func (m *Metrics) session(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) load(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.loadsTotal.WithLabelValues(result).Inc()
	m.loadDuration.Observe(d.Seconds())
}

func (m *Metrics) loaded(ok bool, stateBytes uint64) {
	if m == nil {
		return
	}
	if ok {
		m.modelLoaded.Set(1)
	} else {
		m.modelLoaded.Set(0)
	}
	m.memoryBytes.Set(float64(stateBytes))
}
