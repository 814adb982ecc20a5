// Package rpc is the peer wire protocol: the set of calls one node makes
// on another, serialized with encoding/gob over net/rpc. gob over
// net/rpc is chosen over grpc/protobuf deliberately — see DESIGN.md —
// and kept isolated here so the transport used to reach a peer (real
// RPC, or the in-memory fake in internal/transport) is swappable without
// touching internal/paxos or internal/node.
package rpc

import (
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
)

// PrepareArgs/PrepareReply carry a Paxos phase 1 round trip.
type PrepareArgs struct {
	Msg paxos.Prepare
}

type PrepareReply struct {
	Msg paxos.Promise
}

// AcceptArgs/AcceptReply carry a Paxos phase 2 round trip.
type AcceptArgs struct {
	Msg paxos.Accept
}

type AcceptReply struct {
	Msg paxos.Accepted
}

// LearnArgs is fire-and-forget: the caller does not wait on a
// meaningful reply, but net/rpc requires one.
type LearnArgs struct {
	Msg paxos.Learn
}

type LearnReply struct{}

// DescribeStateArgs/Reply let a recovering node ask a peer how far
// along it is, to decide who to catch up from and whether a snapshot
// is needed before replaying the log.
type DescribeStateArgs struct{}

type DescribeStateReply struct {
	NodeID       int
	FirstSlot    int64
	AppliedIndex int64
	HasSnapshot  bool
	SnapshotSlot int64
}

// FetchSnapshotArgs/Reply transfer the responding node's current
// snapshot, if it has one.
type FetchSnapshotArgs struct{}

type FetchSnapshotReply struct {
	HasSnapshot      bool
	LastIncludedSlot int64
	State            []byte
}

// FetchLogRangeArgs/Reply transfer a contiguous run of chosen log
// entries in [Lo, Hi], for recovery catch-up past a snapshot boundary.
type FetchLogRangeArgs struct {
	Lo int64
	Hi int64
}

type FetchLogRangeReply struct {
	Slots  []int64
	Values []paxos.Command
}

// ForwardWriteArgs/Reply let a non-leader node forward a client write
// to the peer it believes is leader, per the router's
// local-if-leader-else-forward rule. Err is carried as a string because
// error is not gob-encodable; "" means success. ErrCode carries the
// stable identity of a known sentinel alongside it, so the caller's
// Submit can reconstruct the original sentinel (and every errors.Is
// check downstream of it, e.g. internal/api's status-code mapping)
// instead of losing it behind errors.New(Err).
type ForwardWriteArgs struct {
	Cmd paxos.Command
}

type ForwardWriteReply struct {
	Record  statemachine.Record
	Err     string
	ErrCode string
}

// Known ForwardWriteReply.ErrCode values. "" (ErrCodeNone) means either
// success or an error this layer does not recognise as a sentinel, in
// which case the caller falls back to errors.New(Err).
const (
	ErrCodeNone       = ""
	ErrCodeExists     = "exists"
	ErrCodeNotFound   = "not_found"
	ErrCodeRejected   = "rejected"
	ErrCodeRecovering = "recovering"
	ErrCodeNoQuorum   = "no_quorum"
)
