// Package metrics exposes Prometheus collectors for ledger and settlement
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors
type Metrics struct {
	movements   *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	psp         *prometheus.HistogramVec
	bets        prometheus.Counter
	commissions *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bolao_ledger_movements_total",
			Help: "Committed wallet mutations by operation",
		}, []string{"op"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bolao_psp_webhooks_total",
			Help: "PSP webhook callbacks by kind, reported status and outcome",
		}, []string{"kind", "status", "outcome"}),
		psp: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bolao_psp_request_duration_seconds",
			Help:    "Latency of outbound PSP requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"op", "outcome"}),
		bets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bolao_bets_placed_total",
			Help: "Bets committed",
		}),
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bolao_affiliate_commissions_total",
			Help: "Affiliate credits paid by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.movements, m.webhooks, m.psp, m.bets, m.commissions)
	return m
}

// LedgerMovement counts one wallet mutation
func (m *Metrics) LedgerMovement(op string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(op).Inc()
}

// Webhook counts one PSP callback
func (m *Metrics) Webhook(kind, status, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(kind, status, outcome).Inc()
}

// PSPRequest observes the latency of a PSP call
func (m *Metrics) PSPRequest(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.psp.WithLabelValues(op, outcome).Observe(d.Seconds())
}

// BetPlaced counts a committed bet
func (m *Metrics) BetPlaced() {
	if m == nil {
		return
	}
	m.bets.Inc()
}

// Commission counts an affiliate credit
func (m *Metrics) Commission(kind string) {
	if m == nil {
		return
	}
	m.commissions.WithLabelValues(kind).Inc()
}

// Handler serves the metrics of g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
