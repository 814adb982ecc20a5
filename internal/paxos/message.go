package paxos

// Every message carries the slot it concerns, per the teacher's own
// Multi-Paxos extension note: a single Paxos instance runs per slot, and
// these message types are just that one instance's protocol, replicated
// across slots.

// Prepare is phase 1: "I want to propose with round R for slot S."
type Prepare struct {
	Slot   int64
	Round  Round
	NodeID int
}

// Promise is the acceptor's phase-1 response: a promise not to accept
// anything below Round, plus whatever it had already accepted so the
// proposer can respect it.
type Promise struct {
	Slot             int64
	Round            Round
	OK               bool
	HighestSeen      Round // meaningful only when OK is false
	AcceptedRound    Round
	AcceptedValue    Command
	HasAcceptedValue bool
	NodeID           int
}

// Accept is phase 2: "Accept Value at Round for slot Slot."
type Accept struct {
	Slot   int64
	Round  Round
	Value  Command
	NodeID int
}

// Accepted is the acceptor's phase-2 response.
type Accepted struct {
	Slot        int64
	Round       Round
	OK          bool
	HighestSeen Round // meaningful only when OK is false
	NodeID      int
}

// Learn announces that a slot's value has been chosen. Delivery is
// fire-and-forget: correctness never depends on a Learn arriving, since
// a lagging node recovers the same information via catch-up.
type Learn struct {
	Slot   int64
	Round  Round
	Value  Command
	NodeID int
}
