package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the bot. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	Fires           *prometheus.CounterVec
	CatchUps        *prometheus.CounterVec
	DigestIdeas     prometheus.Histogram
	DigestPartial   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finbot_provider_calls_total",
				Help: "Market data provider calls by provider, fact kind and result",
			},
			[]string{"provider", "kind", "result"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finbot_provider_latency_seconds",
				Help:    "Latency of market data provider calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finbot_cache_lookups_total",
				Help: "Fact cache lookups by result (hit, miss, stale)",
			},
			[]string{"result"},
		),
		Fires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finbot_scheduler_fires_total",
				Help: "Scheduler fires by event kind and result",
			},
			[]string{"kind", "result"},
		),
		CatchUps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finbot_scheduler_catchups_total",
				Help: "Catch-up fires issued after downtime, by event kind",
			},
			[]string{"kind"},
		),
		DigestIdeas: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finbot_digest_ideas",
				Help:    "Number of ideas in built digests",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8},
			},
		),
		DigestPartial: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "finbot_digest_partial_total",
				Help: "Digests returned early because the build deadline expired",
			},
		),
	}
	reg.MustRegister(
		m.ProviderCalls, m.ProviderLatency, m.CacheLookups,
		m.Fires, m.CatchUps, m.DigestIdeas, m.DigestPartial,
	)
	return m
}

func (m *Metrics) ProviderCall(provider, kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, kind, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Fire(kind, result string) {
	if m == nil {
		return
	}
	m.Fires.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CatchUp(kind string) {
	if m == nil {
		return
	}
	m.CatchUps.WithLabelValues(kind).Inc()
}

func (m *Metrics) Digest(ideas int, partial bool) {
	if m == nil {
		return
	}
	m.DigestIdeas.Observe(float64(ideas))
	if partial {
		m.DigestPartial.Inc()
	}
}
