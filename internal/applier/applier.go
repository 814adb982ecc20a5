// Package applier drives chosen log entries into the state machine in
// strict slot order, exactly once per slot, and lets callers block until
// their own write has been applied (read-your-writes on the same node).
package applier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scooterfleet/scooterpaxos/internal/replog"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
)

// Result is what applying one command produced.
type Result struct {
	Record statemachine.Record
	Err    error
}

// Applier owns the single-threaded Apply pipeline. Propose -> mark-chosen
// -> Apply -> signal-waiter stays strictly ordered: the log enforces slot
// order, applyMu enforces that nothing else touches the state machine
// concurrently with an in-flight Apply — including the snapshot engine,
// which takes applyMu for the duration of its Snapshot() call so it never
// observes state mid-mutation.
type Applier struct {
	log   *replog.Log
	fleet *statemachine.Fleet

	applyMu sync.Mutex

	mu      sync.Mutex
	results map[int64]Result
	waiters map[int64][]chan struct{}
	closed  bool

	advance chan struct{}
}

func New(log *replog.Log, fleet *statemachine.Fleet) *Applier {
	return &Applier{
		log:     log,
		fleet:   fleet,
		results: make(map[int64]Result),
		waiters: make(map[int64][]chan struct{}),
		advance: make(chan struct{}, 1),
	}
}

// Nudge wakes the applier loop to check for newly-chosen contiguous
// slots; called by the learner whenever a slot becomes chosen.
func (a *Applier) Nudge() {
	select {
	case a.advance <- struct{}{}:
	default:
	}
}

// Run is the applier's single goroutine: apply every contiguous chosen
// slot as it becomes available, forever, until ctx is cancelled.
func (a *Applier) Run(ctx context.Context) {
	for {
		a.drain()
		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.closed = true
			for slot, chans := range a.waiters {
				for _, ch := range chans {
					close(ch)
				}
				delete(a.waiters, slot)
			}
			a.mu.Unlock()
			return
		case <-a.advance:
		}
	}
}

func (a *Applier) drain() {
	for {
		slot, cmd, ok := a.log.NextToApply()
		if !ok {
			return
		}

		a.applyMu.Lock()
		record, err := a.fleet.Apply(cmd)
		a.log.MarkApplied(slot)
		a.applyMu.Unlock()

		// An unknown command kind means this node cannot reproduce the
		// replicated state; it stops rather than diverge.
		if errors.Is(err, statemachine.ErrUnknownCommand) {
			panic(fmt.Sprintf("applier: slot %d: %v", slot, err))
		}
		a.publish(slot, Result{Record: record, Err: err})
	}
}

func (a *Applier) publish(slot int64, r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[slot] = r
	for _, ch := range a.waiters[slot] {
		close(ch)
	}
	delete(a.waiters, slot)
}

// WaitApplied blocks until slot has been applied locally, returning the
// Apply result for it. It is what lets a write's HTTP handler return only
// after read-your-writes holds on this node.
func (a *Applier) WaitApplied(ctx context.Context, slot int64) (Result, error) {
	a.mu.Lock()
	if r, ok := a.results[slot]; ok {
		a.mu.Unlock()
		return r, nil
	}
	if a.closed {
		a.mu.Unlock()
		return Result{}, context.Canceled
	}
	ch := make(chan struct{})
	a.waiters[slot] = append(a.waiters[slot], ch)
	a.mu.Unlock()

	select {
	case <-ch:
		a.mu.Lock()
		r := a.results[slot]
		a.mu.Unlock()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Forget drops cached Apply results for slots below firstSlot, called
// after the log truncates to a snapshot boundary.
func (a *Applier) Forget(firstSlot int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for slot := range a.results {
		if slot < firstSlot {
			delete(a.results, slot)
		}
	}
}

// FreezeForSnapshot runs fn while holding applyMu, guaranteeing fn (the
// snapshot engine's capture of state machine bytes) observes a point
// strictly between two Apply calls, never mid-apply. This is the
// explicit-freeze resolution of the atomicity question: simpler and
// safer than trying to copy state under a finer-grained lock.
func (a *Applier) FreezeForSnapshot(fn func() error) error {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()
	return fn()
}
