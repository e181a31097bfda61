// Package metrics exposes Prometheus instrumentation for the core
// messaging engine: delivery attempts, crypto operations, queue depth
// and relay budget.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "scmessenger"

// Registry is the process-wide Prometheus registry for the core engine.
var Registry = prometheus.NewRegistry()
