// Package metrics exposes the node's prometheus collectors: log
// watermarks (sampled via GaugeFunc, so nothing else needs to push
// them), and the few counters/histograms that genuinely correspond to
// an event rather than a point-in-time value.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WatermarkSource is the subset of internal/replog.Log the applied/
// chosen/proposed gauges read from.
type WatermarkSource interface {
	AppliedIndex() int64
	ChosenIndex() int64
	ProposedIndex() int64
}

// Metrics holds every collector for one node, registered under a
// constant node_id label so a shared registry can serve a whole
// cluster's nodes run in a single demo process without collisions.
type Metrics struct {
	ProposerRoundsTotal   prometheus.Counter
	SnapshotsTotal        prometheus.Counter
	RecoveryDuration      prometheus.Histogram
}

func New(registry *prometheus.Registry, nodeID int, log WatermarkSource) *Metrics {
	labels := prometheus.Labels{"node_id": strconv.Itoa(nodeID)}

	appliedSlot := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "scooterpaxos",
		Name:        "applied_slot",
		Help:        "Highest log slot applied to the local state machine.",
		ConstLabels: labels,
	}, func() float64 { return float64(log.AppliedIndex()) })

	chosenSlot := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "scooterpaxos",
		Name:        "chosen_slot",
		Help:        "Highest contiguous log slot known chosen.",
		ConstLabels: labels,
	}, func() float64 { return float64(log.ChosenIndex()) })

	proposedSlot := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "scooterpaxos",
		Name:        "proposed_slot",
		Help:        "Highest log slot this node has locally proposed into.",
		ConstLabels: labels,
	}, func() float64 { return float64(log.ProposedIndex()) })

	m := &Metrics{
		ProposerRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "scooterpaxos",
			Name:        "proposer_rounds_total",
			Help:        "Round numbers minted by this node's proposer.",
			ConstLabels: labels,
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "scooterpaxos",
			Name:        "snapshots_total",
			Help:        "Snapshots captured by this node.",
			ConstLabels: labels,
		}),
		RecoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "scooterpaxos",
			Name:        "recovery_duration_seconds",
			Help:        "Time spent in the startup recovery protocol.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(appliedSlot, chosenSlot, proposedSlot, m.ProposerRoundsTotal, m.SnapshotsTotal, m.RecoveryDuration)
	return m
}
