// Package metrics holds the Prometheus collectors for the gateway's own
// operational surface: token pool health, retry/circuit-breaker outcomes
// and conversation bookkeeping. It does not model the OpenAI-compatible
// chat API itself, which is an external transport collaborator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus collectors registered at startup.
type Collector struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	TokensProcessed      *prometheus.CounterVec
	TokenCooldowns       *prometheus.CounterVec
	TokenPoolSize        *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	CircuitBreakerTrips  *prometheus.CounterVec
	ConversationsActive  prometheus.Gauge
	ShareLinksCloned     prometheus.Counter
	ProxyPoolRefreshes   *prometheus.CounterVec
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total number of chat completion requests handled.",
		}, []string{"model", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request duration, from dispatch to stream close.",
		}, []string{"model"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "tokens_processed_total",
			Help:      "Total requests consumed per pool and effort tier.",
		}, []string{"pool", "effort"}),

		TokenCooldowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "token_cooldowns_total",
			Help:      "Total cooldowns applied to tokens, by reason.",
		}, []string{"pool", "reason"}),

		TokenPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "token_pool_size",
			Help:      "Number of tokens currently tracked per pool.",
		}, []string{"pool"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per pool (0=closed, 1=open, 2=half_open).",
		}, []string{"pool"}),

		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total times a pool's circuit breaker tripped open.",
		}, []string{"pool"}),

		ConversationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "conversations_active",
			Help:      "Number of conversations currently tracked in memory.",
		}),

		ShareLinksCloned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "share_links_cloned_total",
			Help:      "Total share links cloned into owned conversations.",
		}),

		ProxyPoolRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "proxy_pool_refreshes_total",
			Help:      "Total proxy pool refresh attempts, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.RequestsTotal,
		c.RequestDuration,
		c.TokensProcessed,
		c.TokenCooldowns,
		c.TokenPoolSize,
		c.CircuitBreakerState,
		c.CircuitBreakerTrips,
		c.ConversationsActive,
		c.ShareLinksCloned,
		c.ProxyPoolRefreshes,
	)

	return c
}

// SetTokenPoolSize sets the token_pool_size gauge for pool.
func (c *Collector) SetTokenPoolSize(pool string, n int) {
	c.TokenPoolSize.WithLabelValues(pool).Set(float64(n))
}

// SetConversationsActive sets the conversations_active gauge.
func (c *Collector) SetConversationsActive(n int) {
	c.ConversationsActive.Set(float64(n))
}
