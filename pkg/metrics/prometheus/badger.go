package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/amftpd/amftpd/pkg/metrics"
)

// badgerMetrics is the Prometheus implementation for the ban list and dupe
// store's underlying badger/v4 databases, adapted from the teacher's
// pkg/metrics/prometheus/badger.go (the "store" label distinguishes the
// ban list from the dupe store, in place of the teacher's cache_type).
type badgerMetrics struct {
	keyCount *prometheus.GaugeVec
	gcRuns   *prometheus.CounterVec
}

// NewBadgerMetrics creates a new Prometheus-backed badger metrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewBadgerMetrics() *badgerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &badgerMetrics{
		keyCount: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amftpd_badger_keys",
				Help: "Approximate key count, by store.",
			},
			[]string{"store"}, // "banlist", "dupestore"
		),
		gcRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "amftpd_badger_gc_runs_total",
				Help: "Total value-log GC passes, by store.",
			},
			[]string{"store"},
		),
	}
}

// SetKeyCount records the approximate key count for store.
func (m *badgerMetrics) SetKeyCount(store string, count int) {
	if m == nil {
		return
	}
	m.keyCount.WithLabelValues(store).Set(float64(count))
}

// RecordGCRun records one value-log GC pass for store.
func (m *badgerMetrics) RecordGCRun(store string) {
	if m == nil {
		return
	}
	m.gcRuns.WithLabelValues(store).Inc()
}
