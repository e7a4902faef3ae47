// Package metrics provides the Prometheus instrumentation for the I/O Gate,
// the I/O Channel, and the Rebuild Engine. Metrics are disabled by default;
// a caller enables them once during startup via Init, after which every
// constructor in this package returns a live collector set registered
// against a single process-wide registry. Every recording method is a no-op
// on a nil receiver so callers never have to branch on whether metrics are
// enabled.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
)

// Init enables metrics collection and creates the process registry. It is
// idempotent; calling it more than once has no effect after the first call.
func Init() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		enabled = true
	}
	return registry
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Registry returns the process registry, initializing it if necessary.
func Registry() *prometheus.Registry {
	mu.Lock()
	r := registry
	mu.Unlock()
	if r != nil {
		return r
	}
	return Init()
}
