// Package metrics exposes the sync core's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth is the number of mutations waiting for replay. The primary
	// indicator of how far the client has drifted from the remote store.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shipsync_queue_depth",
		Help: "Current number of pending entries in the mutation queue",
	})

	// EntriesReplayed counts replay outcomes per table and result.
	EntriesReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipsync_entries_replayed_total",
		Help: "Total mutation queue entries replayed against the remote store",
	}, []string{"table", "status"})

	// SyncCycles counts completed sync cycles by outcome.
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shipsync_cycles_total",
		Help: "Total sync cycles run, by outcome",
	}, []string{"outcome"})

	// SyncDuration measures full cycle duration, drain through reconcile.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipsync_cycle_duration_seconds",
		Help:    "Duration of sync cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Online is 1 while the connectivity monitor considers the remote store
	// reachable.
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shipsync_online",
		Help: "Whether the client currently considers itself online (1) or offline (0)",
	})
)
