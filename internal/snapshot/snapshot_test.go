package snapshot

import (
	"fmt"
	"testing"

	"github.com/scooterfleet/scooterpaxos/internal/applier"
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/replog"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
	"github.com/scooterfleet/scooterpaxos/internal/storage"
)

func newHarness(t *testing.T, threshold int64) (*Engine, *replog.Log, *statemachine.Fleet, *paxos.Acceptor, *paxos.Learner) {
	t.Helper()
	log := replog.New()
	fleet := statemachine.New()
	app := applier.New(log, fleet)
	acceptor := paxos.NewAcceptor(1)
	learner := paxos.NewLearner(1, func(slot int64, _ paxos.Round, value paxos.Command) {
		log.MarkChosen(slot, value)
	})
	store := storage.NewMemoryStore()
	engine := New(log, fleet, app, acceptor, learner, store, threshold)
	return engine, log, fleet, acceptor, learner
}

func applyCreate(t *testing.T, log *replog.Log, fleet *statemachine.Fleet, slot int64, id string) {
	t.Helper()
	cmd, err := statemachine.NewCreateCommand(id)
	if err != nil {
		t.Fatalf("build command: %v", err)
	}
	if err := log.MarkChosen(slot, cmd); err != nil {
		t.Fatalf("mark chosen: %v", err)
	}
	if _, err := fleet.Apply(cmd); err != nil {
		t.Fatalf("apply: %v", err)
	}
	log.MarkApplied(slot)
}

func TestEngineShouldCompact(t *testing.T) {
	engine, log, fleet, _, _ := newHarness(t, 2)
	for i := int64(0); i < 2; i++ {
		applyCreate(t, log, fleet, i, fmt.Sprintf("sc-%d", i))
	}
	if engine.ShouldCompact() {
		t.Fatal("log.Len() == threshold should not yet trigger compaction")
	}
	applyCreate(t, log, fleet, 2, "sc-2")
	if !engine.ShouldCompact() {
		t.Fatal("log.Len() > threshold should trigger compaction")
	}
}

func TestEngineCaptureTruncatesAndForgets(t *testing.T) {
	engine, log, fleet, acceptor, _ := newHarness(t, 100)
	applyCreate(t, log, fleet, 0, "sc-1")
	applyCreate(t, log, fleet, 1, "sc-2")

	acceptor.OnPrepare(paxos.Prepare{Slot: 0, Round: paxos.Round{Counter: 1, NodeID: 1}})

	snap, err := engine.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if snap.LastIncludedSlot != 1 {
		t.Fatalf("expected snapshot to cover through slot 1, got %d", snap.LastIncludedSlot)
	}

	if log.FirstSlot() != 2 {
		t.Fatalf("log should be truncated below slot 2, firstSlot=%d", log.FirstSlot())
	}

	// Acceptor state for the truncated slot should be gone: the acceptor
	// now rejects any prepare for slot 0 outright, even one at a round
	// that the old promise (1,1) would have allowed.
	p := acceptor.OnPrepare(paxos.Prepare{Slot: 0, Round: paxos.Round{Counter: 1, NodeID: 2}})
	if p.OK {
		t.Fatal("prepare for a slot below the snapshot boundary should be rejected once acceptor state is forgotten")
	}
}

func TestEngineCurrentReflectsLatestCapture(t *testing.T) {
	engine, log, fleet, _, _ := newHarness(t, 100)
	if _, ok := engine.Current(); ok {
		t.Fatal("a fresh engine should have no snapshot yet")
	}

	applyCreate(t, log, fleet, 0, "sc-1")
	snap, err := engine.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	current, ok := engine.Current()
	if !ok {
		t.Fatal("Current should report the just-captured snapshot")
	}
	if current.LastIncludedSlot != snap.LastIncludedSlot {
		t.Fatalf("Current mismatch: got %+v want %+v", current, snap)
	}
}

func TestEngineInstallSkipsStaleSnapshot(t *testing.T) {
	engine, log, fleet, _, _ := newHarness(t, 100)
	applyCreate(t, log, fleet, 0, "sc-1")
	applyCreate(t, log, fleet, 1, "sc-2")

	// A snapshot that covers less than what this node already has
	// applied must be ignored entirely.
	err := engine.Install(Snapshot{LastIncludedSlot: 0, State: []byte("{}")})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if log.AppliedIndex() != 1 {
		t.Fatalf("installing a stale snapshot must not regress appliedIndex, got %d", log.AppliedIndex())
	}
}

func TestEngineInstallAdvancesFreshNode(t *testing.T) {
	// Build a source fleet with state, snapshot it directly.
	sourceFleet := statemachine.New()
	cmd, _ := statemachine.NewCreateCommand("sc-1")
	sourceFleet.Apply(cmd)
	state, err := sourceFleet.Snapshot()
	if err != nil {
		t.Fatalf("source snapshot: %v", err)
	}

	engine, log, fleet, _, _ := newHarness(t, 100)
	if err := engine.Install(Snapshot{LastIncludedSlot: 4, State: state}); err != nil {
		t.Fatalf("install: %v", err)
	}

	if log.AppliedIndex() != 4 || log.FirstSlot() != 5 {
		t.Fatalf("install should seed watermarks past the snapshot boundary, applied=%d first=%d",
			log.AppliedIndex(), log.FirstSlot())
	}
	record, ok := fleet.Get("sc-1")
	if !ok || record.ID != "sc-1" {
		t.Fatalf("install should load the snapshot's state into the fleet, got %+v ok=%v", record, ok)
	}

	current, ok := engine.Current()
	if !ok || current.LastIncludedSlot != 4 {
		t.Fatalf("install should persist the installed snapshot for future peers to fetch, got %+v ok=%v", current, ok)
	}
}
