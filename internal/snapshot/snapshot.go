// Package snapshot implements the snapshot engine: capturing the state
// machine plus its applied watermark, installing received snapshots on
// recovering nodes, and truncating the replicated log afterward.
package snapshot

import (
	"fmt"
	"sync"

	"github.com/scooterfleet/scooterpaxos/internal/applier"
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/replog"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
	"github.com/scooterfleet/scooterpaxos/internal/storage"
)

// Snapshot is the in-memory view of a captured or installed snapshot:
// everything at slots [0, LastIncludedSlot] applied, in order.
type Snapshot struct {
	LastIncludedSlot int64
	State            []byte
}

func fromStore(s storage.Snapshot) Snapshot {
	return Snapshot{LastIncludedSlot: s.LastIncludedSlot, State: s.State}
}

func toStore(s Snapshot) storage.Snapshot {
	return storage.Snapshot{LastIncludedSlot: s.LastIncludedSlot, State: s.State}
}

// Engine owns the triggers that create a snapshot — an explicit
// request, or the log growing past compactionThreshold entries above
// firstSlot — and delegates holding the resulting blob to a
// storage.Store.
type Engine struct {
	log     *replog.Log
	fleet   *statemachine.Fleet
	applier *applier.Applier
	accept  *paxos.Acceptor
	learn   *paxos.Learner
	store   storage.Store

	compactionThreshold int64

	mu sync.Mutex
}

func New(log *replog.Log, fleet *statemachine.Fleet, app *applier.Applier, acceptor *paxos.Acceptor, learner *paxos.Learner, store storage.Store, compactionThreshold int64) *Engine {
	return &Engine{
		log:                 log,
		fleet:               fleet,
		applier:             app,
		accept:              acceptor,
		learn:               learner,
		store:               store,
		compactionThreshold: compactionThreshold,
	}
}

// ShouldCompact reports whether the log has grown enough past firstSlot
// to warrant an automatic snapshot.
func (e *Engine) ShouldCompact() bool {
	return e.log.Len() > e.compactionThreshold
}

// Capture runs the snapshot protocol: read appliedIndex, snapshot the
// state machine, store it, truncate the log below it. The read of
// appliedIndex and the call into Snapshot() both happen inside the
// applier's freeze, so the pair is atomic with respect to Apply.
func (e *Engine) Capture() (Snapshot, error) {
	var snap Snapshot
	err := e.applier.FreezeForSnapshot(func() error {
		applied := e.log.AppliedIndex()
		if applied < 0 {
			snap = Snapshot{LastIncludedSlot: -1}
			return nil
		}
		bytes, err := e.fleet.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot: capture state: %w", err)
		}
		snap = Snapshot{LastIncludedSlot: applied, State: bytes}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	err = e.store.Save(toStore(snap))
	e.mu.Unlock()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: save: %w", err)
	}

	if snap.LastIncludedSlot >= 0 {
		e.log.TruncateBelow(snap.LastIncludedSlot + 1)
		e.accept.Forget(snap.LastIncludedSlot + 1)
		e.learn.Forget(snap.LastIncludedSlot + 1)
		e.applier.Forget(snap.LastIncludedSlot + 1)
	}
	return snap, nil
}

// Current returns the latest locally captured or installed snapshot,
// for peers fetching a catch-up snapshot from this node.
func (e *Engine) Current() (Snapshot, bool) {
	s, ok, err := e.store.Load()
	if err != nil || !ok {
		return Snapshot{}, false
	}
	return fromStore(s), true
}

// Install atomically swaps in a snapshot received from a peer. If the
// local state is already at least as far along, it is a no-op: a node
// never regresses by installing a stale snapshot.
func (e *Engine) Install(s Snapshot) error {
	if s.LastIncludedSlot <= e.log.AppliedIndex() {
		return nil
	}
	if err := e.fleet.Load(s.State); err != nil {
		return fmt.Errorf("snapshot: install: %w", err)
	}
	e.log.SetRecovered(s.LastIncludedSlot+1, s.LastIncludedSlot)
	e.accept.Forget(s.LastIncludedSlot + 1)
	e.learn.Forget(s.LastIncludedSlot + 1)

	e.mu.Lock()
	err := e.store.Save(toStore(s))
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("snapshot: save installed: %w", err)
	}
	return nil
}
