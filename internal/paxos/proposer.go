package paxos

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNoQuorum is returned when fewer than quorumSize acceptors answer
	// within the round deadline. The caller decides whether to retry.
	ErrNoQuorum = errors.New("paxos: no quorum reachable within round deadline")
	// ErrSuperseded is returned when a higher round won the slot; the
	// proposer has already bumped its counter past it.
	ErrSuperseded = errors.New("paxos: superseded by a higher round")
)

// Transport is how a Proposer reaches every acceptor, including the local
// one: callers are expected to make local delivery an in-process call
// rather than a network hop, but the Proposer does not care either way.
type Transport interface {
	Prepare(ctx context.Context, peer int, m Prepare) (Promise, error)
	Accept(ctx context.Context, peer int, m Accept) (Accepted, error)
	Learn(ctx context.Context, peer int, m Learn)
	Peers() []int
}

// Proposer drives one or more log slots to chosen. A single Proposer
// instance is safe to drive many slots concurrently: per-slot state
// lives entirely on the call stack of Propose/runSlot, the only shared
// mutable state is the monotonic round counter and the leader-lease
// bookkeeping, both behind mu.
type Proposer struct {
	nodeID       int
	quorumSize   int
	transport    Transport
	roundTimeout time.Duration

	mu      sync.Mutex
	counter int64

	// Leader range-prepare optimization (spec.md 4.1): once a Prepare at
	// leaderRound has won a quorum for some slot, any later slot this
	// proposer has never explicitly prepared is, by construction of the
	// Acceptor's globalPromised floor, already promised to leaderRound.
	// runSlot exploits that by skipping straight to phase 2 and only
	// falling back to phase 1 if that optimistic Accept is superseded.
	hasLease    bool
	leaderRound Round

	// suspectedLeader is updated whenever a Prepare/Accept comes back
	// superseded by a round belonging to another node; it is a hint for
	// request routing only, never consulted by the protocol itself.
	suspectedLeader    int
	hasSuspectedLeader bool

	// onRound, if set, is called once per new round number minted;
	// metrics wires this to a counter rather than internal/paxos taking
	// a direct dependency on the metrics package.
	onRound func()
}

// SetRoundHook installs a callback invoked every time this proposer
// mints a new round number, for observability. Not safe to call once
// the proposer is serving traffic.
func (p *Proposer) SetRoundHook(fn func()) {
	p.onRound = fn
}

func NewProposer(nodeID, quorumSize int, transport Transport, roundTimeout time.Duration) *Proposer {
	return &Proposer{
		nodeID:       nodeID,
		quorumSize:   quorumSize,
		transport:    transport,
		roundTimeout: roundTimeout,
	}
}

func (p *Proposer) nextRound() Round {
	p.counter++
	if p.onRound != nil {
		p.onRound()
	}
	return Round{Counter: p.counter, NodeID: p.nodeID}
}

func (p *Proposer) bumpPast(seen Round) {
	if seen.Counter > p.counter {
		p.counter = seen.Counter
	}
	if seen.NodeID != p.nodeID && !seen.Zero() {
		p.suspectedLeader = seen.NodeID
		p.hasSuspectedLeader = true
	}
}

// IsLeader reports whether this node currently holds the range-prepare
// lease, i.e. its last proposal won without being superseded.
func (p *Proposer) IsLeader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasLease
}

// SuspectedLeader is a best-effort hint for request routing: the node
// ID that most recently outran this proposer's round, if any. It is
// never used by the Paxos protocol itself, only by callers deciding
// where to forward a write.
func (p *Proposer) SuspectedLeader() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspectedLeader, p.hasSuspectedLeader
}

// Propose assigns slot to preferred and drives it to chosen, retrying
// within ctx on ErrSuperseded. It returns whatever value actually won the
// slot, which may differ from preferred if a prior proposal's value had
// to be respected.
func (p *Proposer) Propose(ctx context.Context, slot int64, preferred Command) (Command, error) {
	for {
		chosen, err := p.runSlot(ctx, slot, preferred)
		if err == nil {
			return chosen, nil
		}
		if errors.Is(err, ErrSuperseded) {
			if ctx.Err() != nil {
				return Command{}, ctx.Err()
			}
			continue
		}
		return Command{}, err
	}
}

// runSlot is the inner Paxos loop for a single slot.
func (p *Proposer) runSlot(ctx context.Context, slot int64, preferred Command) (Command, error) {
	p.mu.Lock()
	round, skipPhase1 := p.leaderRound, p.hasLease
	p.mu.Unlock()

	value := preferred
	if !skipPhase1 {
		r, adopted, hadAccepted, err := p.runPhase1(ctx, slot)
		if err != nil {
			return Command{}, err
		}
		round = r
		if hadAccepted {
			value = adopted
		}
	}

	chosen, err := p.runPhase2(ctx, slot, round, value)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			p.mu.Lock()
			if p.hasLease && p.leaderRound == round {
				p.hasLease = false
			}
			p.mu.Unlock()
		}
		return Command{}, err
	}

	p.mu.Lock()
	p.hasLease = true
	p.leaderRound = round
	p.mu.Unlock()

	p.broadcastLearn(slot, round, chosen)
	return chosen, nil
}

func (p *Proposer) runPhase1(ctx context.Context, slot int64) (Round, Command, bool, error) {
	p.mu.Lock()
	round := p.nextRound()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.roundTimeout)
	defer cancel()

	type result struct {
		promise Promise
		err     error
	}
	peers := p.transport.Peers()
	results := make(chan result, len(peers))
	for _, peer := range peers {
		peer := peer
		go func() {
			promise, err := p.transport.Prepare(ctx, peer, Prepare{Slot: slot, Round: round, NodeID: p.nodeID})
			results <- result{promise: promise, err: err}
		}()
	}

	var (
		ok              int
		highestAccepted Round
		hasAccepted     bool
		adoptedValue    Command
		highestSeen     = round
		superseded      bool
	)
	for i := 0; i < len(peers); i++ {
		select {
		case r := <-results:
			if r.err != nil {
				continue
			}
			if !r.promise.OK {
				superseded = true
				if r.promise.HighestSeen.Greater(highestSeen) {
					highestSeen = r.promise.HighestSeen
				}
				continue
			}
			ok++
			if r.promise.HasAcceptedValue && (!hasAccepted || r.promise.AcceptedRound.Greater(highestAccepted)) {
				hasAccepted = true
				highestAccepted = r.promise.AcceptedRound
				adoptedValue = r.promise.AcceptedValue
			}
		case <-ctx.Done():
			i = len(peers)
		}
	}

	if superseded {
		p.mu.Lock()
		p.bumpPast(highestSeen)
		p.mu.Unlock()
		return Round{}, Command{}, false, ErrSuperseded
	}
	if ok < p.quorumSize {
		return Round{}, Command{}, false, ErrNoQuorum
	}
	return round, adoptedValue, hasAccepted, nil
}

func (p *Proposer) runPhase2(ctx context.Context, slot int64, round Round, value Command) (Command, error) {
	ctx, cancel := context.WithTimeout(ctx, p.roundTimeout)
	defer cancel()

	type result struct {
		accepted Accepted
		err      error
	}
	peers := p.transport.Peers()
	results := make(chan result, len(peers))
	for _, peer := range peers {
		peer := peer
		go func() {
			accepted, err := p.transport.Accept(ctx, peer, Accept{Slot: slot, Round: round, Value: value, NodeID: p.nodeID})
			results <- result{accepted: accepted, err: err}
		}()
	}

	var (
		ok          int
		superseded  bool
		highestSeen = round
	)
	for i := 0; i < len(peers); i++ {
		select {
		case r := <-results:
			if r.err != nil {
				continue
			}
			if !r.accepted.OK {
				superseded = true
				if r.accepted.HighestSeen.Greater(highestSeen) {
					highestSeen = r.accepted.HighestSeen
				}
				continue
			}
			ok++
		case <-ctx.Done():
			i = len(peers)
		}
	}

	if superseded {
		p.mu.Lock()
		p.bumpPast(highestSeen)
		p.mu.Unlock()
		return Command{}, ErrSuperseded
	}
	if ok < p.quorumSize {
		return Command{}, ErrNoQuorum
	}
	return value, nil
}

func (p *Proposer) broadcastLearn(slot int64, round Round, value Command) {
	for _, peer := range p.transport.Peers() {
		p.transport.Learn(context.Background(), peer, Learn{Slot: slot, Round: round, Value: value, NodeID: p.nodeID})
	}
}
