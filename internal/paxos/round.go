// Package paxos implements the MultiPaxos proposer, acceptor and learner
// roles used to drive each log slot to a chosen value.
package paxos

import "fmt"

// Round is a proposer's attempt identifier within a slot. Rounds are
// compared lexicographically on (Counter, NodeID) so that two proposers
// never hold the same round for the same slot: NodeID only breaks ties
// between equal counters. Rounds are not persisted across crashes.
type Round struct {
	Counter int64
	NodeID  int
}

// Zero reports whether r is the zero round, used as the "nothing accepted
// yet" sentinel in Promise and Accepted messages.
func (r Round) Zero() bool {
	return r.Counter == 0 && r.NodeID == 0
}

// Less reports whether r sorts strictly before other.
func (r Round) Less(other Round) bool {
	if r.Counter != other.Counter {
		return r.Counter < other.Counter
	}
	return r.NodeID < other.NodeID
}

// Greater reports whether r sorts strictly after other.
func (r Round) Greater(other Round) bool {
	return other.Less(r)
}

func (r Round) String() string {
	return fmt.Sprintf("%d.%d", r.Counter, r.NodeID)
}

// Command is an opaque payload the core treats as a black box: only the
// state machine interprets Kind and Payload. Determinism of Apply is the
// only requirement the core places on it.
type Command struct {
	Kind    string
	Payload []byte
}

func (c Command) Equal(o Command) bool {
	if c.Kind != o.Kind || len(c.Payload) != len(o.Payload) {
		return false
	}
	for i := range c.Payload {
		if c.Payload[i] != o.Payload[i] {
			return false
		}
	}
	return true
}
