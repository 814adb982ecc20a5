package paxos

import "sync"

// slotState is the per-slot durable-in-memory state an Acceptor tracks:
// the highest round it has promised, and whatever it has accepted.
type slotState struct {
	promised         Round
	acceptedRound    Round
	acceptedValue    Command
	hasAcceptedValue bool
}

// Acceptor tracks, per slot, the highest promised round and the highest
// accepted (round, value) pair. State below firstSlot may be discarded:
// it is covered by a snapshot and the node does not yet (or no longer)
// need it to answer Prepare/Accept for that range.
//
// A promise for slot S also raises globalPromised, the floor applied to
// any slot this acceptor has never seen a message for. That floor is
// what lets a leader that has already won phase 1 for some slot skip
// phase 1 for every later slot: a brand-new slotState is born already
// promised to the leader's round, so a bare Accept at that round
// succeeds without a prior Prepare round-trip.
type Acceptor struct {
	nodeID int

	mu             sync.Mutex
	slots          map[int64]*slotState
	firstSlot      int64
	globalPromised Round
}

func NewAcceptor(nodeID int) *Acceptor {
	return &Acceptor{
		nodeID: nodeID,
		slots:  make(map[int64]*slotState),
	}
}

func (a *Acceptor) stateFor(slot int64) *slotState {
	s, ok := a.slots[slot]
	if !ok {
		s = &slotState{promised: a.globalPromised}
		a.slots[slot] = s
	}
	return s
}

// OnPrepare implements the acceptor side of phase 1. The comparison is
// strict: an equal round is rejected, only a strictly higher round may
// displace a promise (spec requirement, not the more permissive >=).
func (a *Acceptor) OnPrepare(p Prepare) Promise {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.Slot < a.firstSlot {
		return Promise{Slot: p.Slot, Round: p.Round, OK: false, NodeID: a.nodeID}
	}

	s := a.stateFor(p.Slot)
	if !s.promised.Zero() && !p.Round.Greater(s.promised) {
		return Promise{Slot: p.Slot, Round: p.Round, OK: false, HighestSeen: s.promised, NodeID: a.nodeID}
	}

	s.promised = p.Round
	if p.Round.Greater(a.globalPromised) {
		a.globalPromised = p.Round
	}
	return Promise{
		Slot:             p.Slot,
		Round:            p.Round,
		OK:               true,
		AcceptedRound:    s.acceptedRound,
		AcceptedValue:    s.acceptedValue,
		HasAcceptedValue: s.hasAcceptedValue,
		NodeID:           a.nodeID,
	}
}

// OnAccept implements the acceptor side of phase 2. The comparison is
// non-strict: a round equal to the promised round is accepted, matching
// the Paxos proof (a proposer that just won phase 1 at round R accepts
// at that same R).
func (a *Acceptor) OnAccept(m Accept) Accepted {
	a.mu.Lock()
	defer a.mu.Unlock()

	if m.Slot < a.firstSlot {
		return Accepted{Slot: m.Slot, Round: m.Round, OK: false, NodeID: a.nodeID}
	}

	s := a.stateFor(m.Slot)
	if !s.promised.Zero() && m.Round.Less(s.promised) {
		return Accepted{Slot: m.Slot, Round: m.Round, OK: false, HighestSeen: s.promised, NodeID: a.nodeID}
	}

	s.promised = m.Round
	s.acceptedRound = m.Round
	s.acceptedValue = m.Value
	s.hasAcceptedValue = true
	if m.Round.Greater(a.globalPromised) {
		a.globalPromised = m.Round
	}
	return Accepted{Slot: m.Slot, Round: m.Round, OK: true, NodeID: a.nodeID}
}

// Forget discards acceptor state for every slot below firstSlot, called
// after the log truncates to a new snapshot boundary.
func (a *Acceptor) Forget(firstSlot int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if firstSlot <= a.firstSlot {
		return
	}
	a.firstSlot = firstSlot
	for slot := range a.slots {
		if slot < firstSlot {
			delete(a.slots, slot)
		}
	}
}
