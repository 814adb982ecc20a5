// Package replog implements the replicated log: a slot-indexed sequence
// of Paxos outcomes, the only structure in the system that is allowed to
// decide what "slot order" means. Slot is always the primary key; no
// position is ever derived from how many entries have been appended.
package replog

import (
	"errors"
	"sync"

	"github.com/scooterfleet/scooterpaxos/internal/paxos"
)

// ErrBelowSnapshot is returned when a slot below firstSlot is accessed;
// its outcome is already captured by the current snapshot.
var ErrBelowSnapshot = errors.New("replog: slot is below the current snapshot boundary")

// Entry is the per-slot state of the replicated log.
type Entry struct {
	Proposed paxos.Command
	HasProposed bool

	AcceptedRound paxos.Round
	AcceptedValue paxos.Command
	HasAccepted   bool

	Chosen    paxos.Command
	HasChosen bool

	Applied bool
}

// Log is the replicated log. appliedIndex <= chosenIndex and firstSlot <=
// appliedIndex+1 always hold. proposedIndex counts only this node's own
// proposals, so it can trail chosenIndex when other nodes propose.
type Log struct {
	mu sync.RWMutex

	entries map[int64]*Entry

	firstSlot     int64
	appliedIndex  int64 // highest applied slot; -1 if none
	chosenIndex   int64 // highest contiguous-from-firstSlot chosen slot known; -1 if none
	proposedIndex int64 // highest slot this node has locally proposed; -1 if none
}

func New() *Log {
	return &Log{
		entries:       make(map[int64]*Entry),
		appliedIndex:  -1,
		chosenIndex:   -1,
		proposedIndex: -1,
	}
}

func (l *Log) entryLocked(slot int64) *Entry {
	e, ok := l.entries[slot]
	if !ok {
		e = &Entry{}
		l.entries[slot] = e
	}
	return e
}

// NextSlot returns the next slot a local proposer should claim.
func (l *Log) NextSlot() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.proposedIndex + 1
	if next < l.firstSlot {
		next = l.firstSlot
	}
	l.proposedIndex = next
	return next
}

// MarkProposed records that this node is locally attempting to propose
// cmd at slot; idempotent re-proposals of the same slot are fine, it is
// purely informational bookkeeping for NextSlot.
func (l *Log) MarkProposed(slot int64, cmd paxos.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot < l.firstSlot {
		return ErrBelowSnapshot
	}
	e := l.entryLocked(slot)
	e.Proposed = cmd
	e.HasProposed = true
	if slot > l.proposedIndex {
		l.proposedIndex = slot
	}
	return nil
}

// MarkChosen sets slot's chosen value, asserting that any prior chosen
// value for slot is identical — a violation indicates a safety bug
// elsewhere in the system, not a recoverable condition.
func (l *Log) MarkChosen(slot int64, value paxos.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot < l.firstSlot {
		return ErrBelowSnapshot
	}
	e := l.entryLocked(slot)
	if e.HasChosen {
		if !e.Chosen.Equal(value) {
			panic("replog: two different values chosen for the same slot")
		}
		return nil
	}
	e.Chosen = value
	e.HasChosen = true
	l.advanceChosenIndexLocked()
	return nil
}

// advanceChosenIndexLocked moves chosenIndex forward over any contiguous
// run of chosen entries starting at chosenIndex+1.
func (l *Log) advanceChosenIndexLocked() {
	next := l.chosenIndex + 1
	if next < l.firstSlot {
		next = l.firstSlot
	}
	for {
		e, ok := l.entries[next]
		if !ok || !e.HasChosen {
			break
		}
		l.chosenIndex = next
		next++
	}
}

// NextToApply returns the next slot the applier should apply and whether
// it is ready (chosen and contiguous from appliedIndex). It never skips
// a gap: if appliedIndex+1 is not chosen, ok is false regardless of
// whether later slots are chosen.
func (l *Log) NextToApply() (slot int64, cmd paxos.Command, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	next := l.appliedIndex + 1
	if next < l.firstSlot {
		// slots below firstSlot are covered by the snapshot: the applier
		// catches up via snapshot install, not via this path.
		return 0, paxos.Command{}, false
	}
	e, exists := l.entries[next]
	if !exists || !e.HasChosen {
		return 0, paxos.Command{}, false
	}
	return next, e.Chosen, true
}

// MarkApplied advances appliedIndex to slot. Callers must only call this
// for the slot returned by NextToApply, in order; it enforces that here.
func (l *Log) MarkApplied(slot int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot != l.appliedIndex+1 {
		panic("replog: applied out of order")
	}
	e := l.entryLocked(slot)
	e.Applied = true
	l.appliedIndex = slot
}

// TruncateBelow drops every entry with index < s and sets firstSlot = s.
// Only called after a snapshot has been durably captured up to s-1.
func (l *Log) TruncateBelow(s int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s <= l.firstSlot {
		return
	}
	for slot := range l.entries {
		if slot < s {
			delete(l.entries, slot)
		}
	}
	l.firstSlot = s
	if l.appliedIndex < s-1 {
		l.appliedIndex = s - 1
	}
	if l.chosenIndex < s-1 {
		l.chosenIndex = s - 1
	}
	if l.proposedIndex < s-1 {
		l.proposedIndex = s - 1
	}
}

// SetRecovered seeds the log's watermarks after installing a snapshot or
// replaying a catch-up range during recovery, before the node goes ACTIVE.
func (l *Log) SetRecovered(firstSlot, appliedIndex int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.firstSlot = firstSlot
	l.appliedIndex = appliedIndex
	l.chosenIndex = appliedIndex
	l.proposedIndex = appliedIndex
}

// FirstSlot, AppliedIndex, ChosenIndex, ProposedIndex expose the log's
// watermarks for the snapshot engine, recovery coordinator and metrics.
func (l *Log) FirstSlot() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firstSlot
}

func (l *Log) AppliedIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.appliedIndex
}

func (l *Log) ChosenIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chosenIndex
}

func (l *Log) ProposedIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.proposedIndex
}

// Len reports how many entries above firstSlot would need to be sent to
// catch a peer up from appliedIndex, used by the snapshot engine's
// size/count trigger.
func (l *Log) Len() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.appliedIndex - l.firstSlot + 1
}

// Range returns chosen entries for slots in [lo, hi], for catch-up RPCs.
// Returns ErrBelowSnapshot if lo < firstSlot.
func (l *Log) Range(lo, hi int64) ([]int64, []paxos.Command, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lo < l.firstSlot {
		return nil, nil, ErrBelowSnapshot
	}
	var slots []int64
	var values []paxos.Command
	for s := lo; s <= hi; s++ {
		e, ok := l.entries[s]
		if !ok || !e.HasChosen {
			break
		}
		slots = append(slots, s)
		values = append(values, e.Chosen)
	}
	return slots, values, nil
}

// Get returns a copy of the entry at slot, for diagnostics and tests.
func (l *Log) Get(slot int64) (Entry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if slot < l.firstSlot {
		return Entry{}, false, ErrBelowSnapshot
	}
	e, ok := l.entries[slot]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}
