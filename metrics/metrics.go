// Package metrics exposes the listener- and connection-level Prometheus
// collectors supplementing spec.md §4.10's "atomic counter tracks live
// connections" with an operable metrics surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pajamax"

var (
	// ConnectionsAccepted counts every TCP connection the listener
	// handed off to a connection goroutine.
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_accepted_total",
		Help:      "Connections accepted by the listener.",
	})

	// ConnectionsDropped counts connections refused because
	// max_concurrent_connections was already reached.
	ConnectionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_dropped_total",
		Help:      "Connections dropped because the concurrent-connection limit was reached.",
	})

	// ActiveConnections tracks the live connection count the listener's
	// atomic counter maintains.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Currently active connections.",
	})

	// FlushesTotal counts response-buffer flushes, labeled by what
	// triggered them ("threshold" or "end_of_burst").
	FlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flushes_total",
		Help:      "Response buffer flushes.",
	}, []string{"reason"})

	// FlushedBytes observes the size of each flushed write.
	FlushedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flushed_bytes",
		Help:      "Bytes written per flush.",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
	})

	// DispatchOverflowTotal counts Unavailable statuses synthesized
	// because a worker's request channel was full.
	DispatchOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_overflow_total",
		Help:      "Requests answered with Unavailable because a dispatch channel was full.",
	})
)
