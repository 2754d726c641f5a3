// Package metrics expõe as decisões do rate limit para o Prometheus.
package metrics

import (
	"context"
	"net/http"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ratelimit"

// Metrics guarda os coletores. Só a política entra como label; chave e path
// ficariam com cardinalidade ilimitada.
type Metrics struct {
	Decisions  *prometheus.CounterVec
	RetryAfter *prometheus.HistogramVec
}

// NewMetrics registra os coletores em reg. stats alimenta os gauges de
// entradas em memória e disponibilidade do store compartilhado.
func NewMetrics(reg prometheus.Registerer, stats func() domain.StoreStats) *Metrics {
	m := &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Rate limit decisions by policy and result",
			},
			[]string{"policy", "result"}, // result=allowed/denied
		),
		RetryAfter: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_after_seconds",
				Help:      "Retry-After returned on rejected requests",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"policy"},
		),
	}

	if stats != nil {
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_keys",
				Help:      "Window records resident in memory",
			},
			func() float64 { return float64(stats().InMemoryEntryCount) },
		)
		promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "shared_store_up",
				Help:      "1 when the shared window store is in use",
			},
			func() float64 {
				if stats().SharedStoreAvailable {
					return 1
				}
				return 0
			},
		)
	}
	return m
}

var _ domain.StatsStore = (*Metrics)(nil)

// Record implementa domain.StatsStore.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	result := "allowed"
	if !ev.Allowed {
		result = "denied"
	}
	m.Decisions.WithLabelValues(ev.Policy, result).Inc()
	return nil
}

// OnLimitExceeded devolve um callback para ratelimit.Options.OnLimitExceeded.
func (m *Metrics) OnLimitExceeded(policy string) func(*http.Request, domain.Result) {
	return func(_ *http.Request, res domain.Result) {
		m.RetryAfter.WithLabelValues(policy).Observe(res.RetryAfter.Seconds())
	}
}
