package paxos

import "sync"

// OnChosen is invoked exactly once per slot, the first time the learner
// determines (by quorum or by trusted announcement) that a value has
// been chosen for that slot.
type OnChosen func(slot int64, round Round, value Command)

type voteKey struct {
	slot  int64
	round Round
}

// Learner counts Accepted votes grouped by (slot, round) — a round
// carries exactly one value, so the pair also pins the value —
// never by raw acceptor count, which would conflate votes for different
// values at different rounds (the teacher's own documented pitfall) —
// and also accepts trusted Learn announcements from a proposer that
// already computed its own quorum.
type Learner struct {
	quorumSize int
	onChosen   OnChosen

	mu      sync.Mutex
	voters  map[voteKey]map[int]Command // slot+round -> nodeID -> value
	chosen  map[int64]Command
	highest int64 // highest slot known chosen, for catch-up bookkeeping
}

func NewLearner(quorumSize int, onChosen OnChosen) *Learner {
	return &Learner{
		quorumSize: quorumSize,
		onChosen:   onChosen,
		voters:     make(map[voteKey]map[int]Command),
		chosen:     make(map[int64]Command),
	}
}

// HandleAccepted records one acceptor's vote. It is safe to call multiple
// times with the same vote.
func (l *Learner) HandleAccepted(a Accepted, value Command) {
	if !a.OK {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, already := l.chosen[a.Slot]; already {
		return
	}

	key := voteKey{slot: a.Slot, round: a.Round}
	votes, ok := l.voters[key]
	if !ok {
		votes = make(map[int]Command)
		l.voters[key] = votes
	}
	votes[a.NodeID] = value

	if len(votes) >= l.quorumSize {
		l.markChosenLocked(a.Slot, a.Round, value)
	}
}

// HandleLearn records a trusted chosen announcement from a proposer (or
// from catch-up) without needing to re-derive quorum locally.
func (l *Learner) HandleLearn(m Learn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markChosenLocked(m.Slot, m.Round, m.Value)
}

func (l *Learner) markChosenLocked(slot int64, round Round, value Command) {
	if _, already := l.chosen[slot]; already {
		return
	}
	l.chosen[slot] = value
	delete(l.voters, voteKey{slot: slot, round: round})
	if slot > l.highest {
		l.highest = slot
	}
	if l.onChosen != nil {
		l.onChosen(slot, round, value)
	}
}

// ChosenValue returns the value chosen for slot, if known to this learner.
func (l *Learner) ChosenValue(slot int64) (Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.chosen[slot]
	return v, ok
}

// Forget drops vote-tracking bookkeeping for slots below firstSlot; the
// chosen map for those slots is also no longer needed once a snapshot
// covers them.
func (l *Learner) Forget(firstSlot int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.voters {
		if key.slot < firstSlot {
			delete(l.voters, key)
		}
	}
	for slot := range l.chosen {
		if slot < firstSlot {
			delete(l.chosen, slot)
		}
	}
}
