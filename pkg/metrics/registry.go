// Package metrics defines the daemon's metrics interfaces and a shared
// Prometheus registry gate: InitRegistry/IsEnabled/GetRegistry. The
// registry helpers are authored against the promauto.With(reg)/IsEnabled()
// usage pattern the teacher's pkg/metrics/prometheus implementations call
// (see pkg/metrics/prometheus), since the declarations themselves weren't
// present in the retrieved copy of that package (see DESIGN.md).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry enables metrics collection and installs reg as the shared
// registry every NewXxxMetrics() constructor registers against. Passing a
// nil registry uses prometheus.NewRegistry().
func InitRegistry(reg *prometheus.Registry) {
	mu.Lock()
	defer mu.Unlock()
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	registry = reg
	enabled = true
}

// IsEnabled reports whether InitRegistry has been called. Every
// NewXxxMetrics() constructor checks this first and returns nil when
// false, so callers can unconditionally call methods on a nil metrics
// value with zero overhead.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the shared registry. Only valid after InitRegistry.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Reset disables metrics and drops the registry, used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
	enabled = false
}
