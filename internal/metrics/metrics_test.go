package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeWatermarks struct {
	applied, chosen, proposed int64
}

func (f fakeWatermarks) AppliedIndex() int64  { return f.applied }
func (f fakeWatermarks) ChosenIndex() int64   { return f.chosen }
func (f fakeWatermarks) ProposedIndex() int64 { return f.proposed }

func TestMetricsGaugesSampleLive(t *testing.T) {
	registry := prometheus.NewRegistry()
	src := fakeWatermarks{applied: 3, chosen: 4, proposed: 5}
	New(registry, 1, src)

	if got := gaugeValue(t, registry, "scooterpaxos_applied_slot"); got != 3 {
		t.Fatalf("applied_slot = %v, want 3", got)
	}
	if got := gaugeValue(t, registry, "scooterpaxos_chosen_slot"); got != 4 {
		t.Fatalf("chosen_slot = %v, want 4", got)
	}
	if got := gaugeValue(t, registry, "scooterpaxos_proposed_slot"); got != 5 {
		t.Fatalf("proposed_slot = %v, want 5", got)
	}
}

func TestMetricsCountersAndHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry, 1, fakeWatermarks{})

	m.ProposerRoundsTotal.Inc()
	m.ProposerRoundsTotal.Inc()
	m.SnapshotsTotal.Inc()
	m.RecoveryDuration.Observe(0.25)

	if got := testutil.ToFloat64(m.ProposerRoundsTotal); got != 2 {
		t.Fatalf("proposer_rounds_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SnapshotsTotal); got != 1 {
		t.Fatalf("snapshots_total = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RecoveryDuration); got != 1 {
		t.Fatalf("expected exactly one registered recovery_duration_seconds metric, got %d", got)
	}
}

func TestMetricsRegisteredUnderConstNodeIDLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	New(registry, 7, fakeWatermarks{})

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var sawNodeLabel bool
			for _, lbl := range metric.GetLabel() {
				if lbl.GetName() == "node_id" && lbl.GetValue() == "7" {
					sawNodeLabel = true
				}
			}
			if !sawNodeLabel {
				t.Fatalf("metric %s missing node_id=7 const label", mf.GetName())
			}
		}
	}
}

// gaugeValue reads a GaugeFunc's current sampled value straight out of
// a Gather() call; GaugeFuncs have no registered prometheus.Collector
// handle of their own to hand to testutil.ToFloat64, so this reads
// the family's single metric value directly.
func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			if len(mf.GetMetric()) != 1 {
				t.Fatalf("expected exactly one metric in family %s, got %d", name, len(mf.GetMetric()))
			}
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}
