package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cfdp-go/engine/internal/cfdp/ports"
)

// Metrics holds the Prometheus metrics for the CFDP daemon and implements
// ports.Reporter by turning every engine event into a counter increment,
// plus a handful of named Set/Observe methods the engine's wakeup loop calls
// directly for gauges that only it can measure (pool occupancy, wakeup
// latency).
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	TransactionsTotal   *prometheus.CounterVec
	TransactionsActive  prometheus.Gauge
	NAKsSentTotal       prometheus.Counter
	FINsSentTotal       prometheus.Counter
	CRCFailuresTotal    prometheus.Counter
	PoolUtilization     prometheus.Gauge
	WakeupDuration      prometheus.Histogram
	PDUsDecodedTotal    *prometheus.CounterVec
	PDUsEncodedTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics for one daemon
// process. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfdp_events_total",
				Help: "Count of Reporter events by id and severity",
			},
			[]string{"id", "severity"},
		),
		TransactionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfdp_transactions_total",
				Help: "Completed transactions by final status",
			},
			[]string{"status"},
		),
		TransactionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cfdp_transactions_active",
				Help: "Transactions currently occupying a pool slot",
			},
		),
		NAKsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cfdp_naks_sent_total",
				Help: "NAK PDUs transmitted across all channels",
			},
		),
		FINsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cfdp_fins_sent_total",
				Help: "FIN PDUs transmitted across all channels",
			},
		),
		CRCFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cfdp_crc_failures_total",
				Help: "Transactions that finalized with a checksum mismatch",
			},
		),
		PoolUtilization: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cfdp_pool_utilization_ratio",
				Help: "Fraction of transaction pool slots currently allocated",
			},
		),
		WakeupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cfdp_wakeup_duration_seconds",
				Help:    "Wall time spent in one engine wakeup",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		PDUsDecodedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfdp_pdus_decoded_total",
				Help: "Inbound PDUs decoded by kind",
			},
			[]string{"kind"},
		),
		PDUsEncodedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfdp_pdus_encoded_total",
				Help: "Outbound PDUs encoded by kind",
			},
			[]string{"kind"},
		),
	}
}

// Event implements ports.Reporter. It always bumps the generic events
// counter, then special-cases the few ids that carry enough information to
// update a more specific metric.
func (m *Metrics) Event(id string, severity ports.Severity, fields ...ports.Field) {
	m.EventsTotal.WithLabelValues(id, severityLabel(severity)).Inc()

	switch id {
	case "rfsm.transaction_complete":
		status := "unknown"
		for _, f := range fields {
			if f.Key == "status" {
				if s, ok := f.Value.(string); ok {
					status = s
				}
			}
		}
		m.TransactionsTotal.WithLabelValues(status).Inc()
		if status == "file_checksum_failure" {
			m.CRCFailuresTotal.Inc()
		}
	}
}

func severityLabel(s ports.Severity) string {
	switch s {
	case ports.SeverityDebug:
		return "debug"
	case ports.SeverityError:
		return "error"
	default:
		return "info"
	}
}

// RecordPoolUtilization sets the pool occupancy gauge; called once per
// wakeup by the engine's wiring code (the engine package itself only
// depends on ports.Reporter, not *Metrics, so this is called from
// daemon/cmd/cfdpd after each Wakeup).
func (m *Metrics) RecordPoolUtilization(used, capacity int) {
	if capacity == 0 {
		m.PoolUtilization.Set(0)
		return
	}
	m.PoolUtilization.Set(float64(used) / float64(capacity))
}

// RecordWakeup observes one wakeup's wall-clock duration.
func (m *Metrics) RecordWakeup(seconds float64) {
	m.WakeupDuration.Observe(seconds)
}

// RecordPDUDecoded/RecordPDUEncoded count PDUs by kind. The core codec and
// the engine stay metrics-free and do not call them.
func (m *Metrics) RecordPDUDecoded(kind string) { m.PDUsDecodedTotal.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordPDUEncoded(kind string) { m.PDUsEncodedTotal.WithLabelValues(kind).Inc() }

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
