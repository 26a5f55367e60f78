// Package prometheus implements the daemon's metrics interfaces on top of
// prometheus/client_golang, following the teacher's pkg/metrics/prometheus
// package: promauto.With(reg) constructors gated by metrics.IsEnabled(),
// every Record* method nil-receiver-safe.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/amftpd/amftpd/pkg/metrics"
)

// ftpMetrics is the Prometheus implementation of metrics.FTPMetrics.
type ftpMetrics struct {
	commandDuration *prometheus.HistogramVec
	commandTotal    *prometheus.CounterVec

	activeSessions        prometheus.Gauge
	sessionsOpenedTotal   prometheus.Counter
	sessionsClosedTotal   prometheus.Counter
	activeDataConnections prometheus.Gauge

	transferBytes   *prometheus.CounterVec
	transferTotal   *prometheus.CounterVec
	transferSeconds *prometheus.HistogramVec

	creditChargeKB *prometheus.CounterVec

	bansAppliedTotal  prometheus.Counter
	failedLoginsTotal prometheus.Counter
}

// NewFTPMetrics creates a new Prometheus-backed FTPMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called), so
// every Record*/Set* call below is safe against a nil receiver.
func NewFTPMetrics() *ftpMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &ftpMetrics{
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amftpd_command_duration_seconds",
				Help:    "Control-channel command handling duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb"},
		),
		commandTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "amftpd_commands_total",
				Help: "Total dispatched control-channel commands, by verb and reply code class.",
			},
			[]string{"verb", "reply_class"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "amftpd_active_sessions",
				Help: "Current number of open control sessions.",
			},
		),
		sessionsOpenedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "amftpd_sessions_opened_total",
				Help: "Total control sessions accepted.",
			},
		),
		sessionsClosedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "amftpd_sessions_closed_total",
				Help: "Total control sessions closed.",
			},
		),
		activeDataConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "amftpd_active_data_connections",
				Help: "Current number of open data connections.",
			},
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "amftpd_transfer_bytes_total",
				Help: "Total bytes transferred, by direction and section.",
			},
			[]string{"direction", "section"},
		),
		transferTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "amftpd_transfers_total",
				Help: "Total completed transfers, by direction, section and outcome.",
			},
			[]string{"direction", "section", "outcome"},
		),
		transferSeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amftpd_transfer_duration_seconds",
				Help:    "Transfer duration in seconds, by direction.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
		creditChargeKB: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "amftpd_credit_kb_total",
				Help: "Total KB charged/earned, by kind (charge|earn) and section.",
			},
			[]string{"kind", "section"},
		),
		bansAppliedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "amftpd_bans_applied_total",
				Help: "Total IP bans applied by the ban list.",
			},
		),
		failedLoginsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "amftpd_failed_logins_total",
				Help: "Total failed PASS attempts.",
			},
		),
	}
}

func (m *ftpMetrics) RecordCommand(verb string, duration time.Duration, replyCode int) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(verb).Observe(duration.Seconds())
	m.commandTotal.WithLabelValues(verb, replyClass(replyCode)).Inc()
}

func replyClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}

func (m *ftpMetrics) SetActiveSessions(count int32) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func (m *ftpMetrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpenedTotal.Inc()
}

func (m *ftpMetrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosedTotal.Inc()
}

func (m *ftpMetrics) SetActiveDataConnections(count int32) {
	if m == nil {
		return
	}
	m.activeDataConnections.Set(float64(count))
}

func (m *ftpMetrics) RecordTransfer(direction, section string, bytes int64, duration time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.transferBytes.WithLabelValues(direction, section).Add(float64(bytes))
	m.transferTotal.WithLabelValues(direction, section, outcome).Inc()
	m.transferSeconds.WithLabelValues(direction).Observe(duration.Seconds())
}

func (m *ftpMetrics) RecordCreditCharge(kind, section string, kb int64) {
	if m == nil {
		return
	}
	m.creditChargeKB.WithLabelValues(kind, section).Add(float64(kb))
}

func (m *ftpMetrics) RecordBanApplied() {
	if m == nil {
		return
	}
	m.bansAppliedTotal.Inc()
}

func (m *ftpMetrics) RecordFailedLogin() {
	if m == nil {
		return
	}
	m.failedLoginsTotal.Inc()
}
