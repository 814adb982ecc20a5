// Package node wires every role — proposer, acceptor, learner,
// replicated log, applier, snapshot engine, recovery coordinator — into
// the single participant a cluster member actually runs. It owns the
// RECOVERING -> ACTIVE lifecycle and the write-routing rule ("handle
// locally if this node holds the leader lease, else forward to the
// node that last outran it").
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scooterfleet/scooterpaxos/internal/applier"
	"github.com/scooterfleet/scooterpaxos/internal/cluster"
	"github.com/scooterfleet/scooterpaxos/internal/metrics"
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/recovery"
	"github.com/scooterfleet/scooterpaxos/internal/replog"
	"github.com/scooterfleet/scooterpaxos/internal/rpc"
	"github.com/scooterfleet/scooterpaxos/internal/snapshot"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
	"github.com/scooterfleet/scooterpaxos/internal/storage"
)

// ErrRecovering is returned for any client-facing request made before
// the node has finished catching up and gone ACTIVE.
var ErrRecovering = errors.New("node: recovering, not yet active")

// State is the node's lifecycle gate.
type State int32

const (
	StateRecovering State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "ACTIVE"
	}
	return "RECOVERING"
}

// PeerClient is everything a Node needs to reach another node: the
// Paxos message exchange (paxos.Transport), the recovery catch-up calls
// (recovery.PeerClient), and forwarding a write to a suspected leader.
// internal/rpc.Client and internal/transport.MemoryTransport both
// satisfy this without naming it.
type PeerClient interface {
	paxos.Transport
	recovery.PeerClient
	ForwardWrite(ctx context.Context, peer int, cmd paxos.Command) (rpc.ForwardWriteReply, error)
}

// Config is everything New needs to assemble a Node.
type Config struct {
	Directory           *cluster.Directory
	PeerClient          PeerClient
	Store               storage.Store
	RoundTimeout        time.Duration
	CompactionThreshold int64
	RecoveryTimeout     time.Duration
	RecoveryRetries     int
	Logger              zerolog.Logger
	Metrics             *metrics.Metrics
}

// Node is one cluster participant.
type Node struct {
	id           int
	dir          *cluster.Directory
	peerClient   PeerClient
	roundTimeout time.Duration
	logger       zerolog.Logger

	log        *replog.Log
	fleet      *statemachine.Fleet
	applier    *applier.Applier
	acceptor   *paxos.Acceptor
	learner    *paxos.Learner
	proposer   *paxos.Proposer
	snapEngine *snapshot.Engine
	recoveryCo *recovery.Coordinator
	metrics    *metrics.Metrics

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Node {
	n := &Node{
		id:           cfg.Directory.Self(),
		dir:          cfg.Directory,
		peerClient:   cfg.PeerClient,
		roundTimeout: cfg.RoundTimeout,
		logger:       cfg.Logger,
		state:        StateRecovering,
		metrics:      cfg.Metrics,
	}
	n.fleet = statemachine.New()
	n.log = replog.New()
	n.applier = applier.New(n.log, n.fleet)
	n.acceptor = paxos.NewAcceptor(n.id)
	n.learner = paxos.NewLearner(cfg.Directory.Quorum(), n.onChosen)
	n.proposer = paxos.NewProposer(n.id, cfg.Directory.Quorum(), cfg.PeerClient, cfg.RoundTimeout)
	if n.metrics != nil {
		n.proposer.SetRoundHook(n.metrics.ProposerRoundsTotal.Inc)
	}
	n.snapEngine = snapshot.New(n.log, n.fleet, n.applier, n.acceptor, n.learner, cfg.Store, cfg.CompactionThreshold)
	n.recoveryCo = recovery.New(cfg.Directory, cfg.PeerClient, n.log, n.snapEngine, cfg.RecoveryTimeout, cfg.RecoveryRetries, cfg.Logger)
	return n
}

// onChosen is the Learner's callback: record the outcome in the log,
// wake the applier, and trigger compaction if the log has grown past
// its threshold.
func (n *Node) onChosen(slot int64, _ paxos.Round, value paxos.Command) {
	if err := n.log.MarkChosen(slot, value); err != nil {
		n.logger.Error().Err(err).Int64("slot", slot).Msg("node: mark chosen failed")
		return
	}
	n.applier.Nudge()
	if n.snapEngine.ShouldCompact() {
		go func() {
			if _, err := n.TriggerSnapshot(); err != nil {
				n.logger.Error().Err(err).Msg("node: automatic snapshot failed")
			}
		}()
	}
}

// Start runs the applier loop and the recovery protocol, then marks the
// node ACTIVE. It blocks until recovery completes or ctx is cancelled.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.applier.Run(runCtx)
	}()

	recoveryStart := time.Now()
	err := n.recoveryCo.Run(ctx)
	if n.metrics != nil {
		n.metrics.RecoveryDuration.Observe(time.Since(recoveryStart).Seconds())
	}
	if err != nil {
		return fmt.Errorf("node: recovery: %w", err)
	}
	n.applier.Nudge()

	n.mu.Lock()
	n.state = StateActive
	n.mu.Unlock()
	n.logger.Info().Msg("node: active")
	return nil
}

// Stop cancels the applier loop and waits for it to exit.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

func (n *Node) ID() int                       { return n.id }
func (n *Node) Directory() *cluster.Directory { return n.dir }
func (n *Node) IsLeader() bool                { return n.proposer.IsLeader() }

// ReplicatedLog exposes the log's watermarks for metrics.New, which
// only needs the read side (metrics.WatermarkSource).
func (n *Node) ReplicatedLog() metrics.WatermarkSource { return n.log }

// SetMetrics wires a Metrics instance built from ReplicatedLog() back
// into the node, for the proposer-round counter hook. Call before
// Start; cfg.Metrics handles the common case where the registry and
// node are built by the same caller in one step.
func (n *Node) SetMetrics(m *metrics.Metrics) {
	n.metrics = m
	n.proposer.SetRoundHook(m.ProposerRoundsTotal.Inc)
}

func (n *Node) isActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateActive
}

func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Submit drives cmd to a chosen slot and returns the record it
// produced: locally, if this node holds the leader lease or the
// cluster has no peers; forwarded to the suspected leader otherwise.
func (n *Node) Submit(ctx context.Context, cmd paxos.Command) (statemachine.Record, error) {
	if !n.isActive() {
		return statemachine.Record{}, ErrRecovering
	}
	if n.proposer.IsLeader() || len(n.dir.Others()) == 0 {
		return n.proposeLocal(ctx, cmd)
	}
	leader, ok := n.proposer.SuspectedLeader()
	if !ok {
		// No leader hint yet: try locally. Either this node wins the
		// lease outright, or phase 1 loses and leaves a fresh hint for
		// next time.
		return n.proposeLocal(ctx, cmd)
	}
	reply, err := n.peerClient.ForwardWrite(ctx, leader, cmd)
	if err != nil {
		return statemachine.Record{}, fmt.Errorf("node: forward to %d: %w", leader, err)
	}
	if reply.Err != "" {
		if sentinel := sentinelForErrCode(reply.ErrCode); sentinel != nil {
			return reply.Record, fmt.Errorf("%w (forwarded from %d: %s)", sentinel, leader, reply.Err)
		}
		return reply.Record, errors.New(reply.Err)
	}
	return reply.Record, nil
}

// errCodeFor classifies err as one of rpc's stable ForwardWriteReply
// error codes, so a forwarded write's failure identity survives the
// gob boundary instead of collapsing into an opaque string. Unrecognised
// errors get ErrCodeNone, falling back to the message alone.
func errCodeFor(err error) string {
	switch {
	case errors.Is(err, statemachine.ErrExists):
		return rpc.ErrCodeExists
	case errors.Is(err, statemachine.ErrNotFound):
		return rpc.ErrCodeNotFound
	case errors.Is(err, statemachine.ErrRejected):
		return rpc.ErrCodeRejected
	case errors.Is(err, ErrRecovering):
		return rpc.ErrCodeRecovering
	case errors.Is(err, paxos.ErrNoQuorum):
		return rpc.ErrCodeNoQuorum
	default:
		return rpc.ErrCodeNone
	}
}

// sentinelForErrCode is errCodeFor's inverse, used on the forwarding
// side to recover the concrete sentinel from the wire code.
func sentinelForErrCode(code string) error {
	switch code {
	case rpc.ErrCodeExists:
		return statemachine.ErrExists
	case rpc.ErrCodeNotFound:
		return statemachine.ErrNotFound
	case rpc.ErrCodeRejected:
		return statemachine.ErrRejected
	case rpc.ErrCodeRecovering:
		return ErrRecovering
	case rpc.ErrCodeNoQuorum:
		return paxos.ErrNoQuorum
	default:
		return nil
	}
}

func (n *Node) proposeLocal(ctx context.Context, cmd paxos.Command) (statemachine.Record, error) {
	slot := n.log.NextSlot()
	if err := n.log.MarkProposed(slot, cmd); err != nil {
		return statemachine.Record{}, fmt.Errorf("node: mark proposed: %w", err)
	}
	chosen, err := n.proposer.Propose(ctx, slot, cmd)
	if err != nil {
		return statemachine.Record{}, fmt.Errorf("node: propose: %w", err)
	}
	if !chosen.Equal(cmd) {
		// A different proposer's value won this slot; ours never ran
		// here. Try again on a fresh slot instead of reporting someone
		// else's result back to our caller.
		return n.proposeLocal(ctx, cmd)
	}
	result, err := n.applier.WaitApplied(ctx, slot)
	if err != nil {
		return statemachine.Record{}, fmt.Errorf("node: wait applied: %w", err)
	}
	return result.Record, result.Err
}

// CreateScooter, ReserveScooter and ReleaseScooter are the domain
// write operations the HTTP API calls into.
func (n *Node) CreateScooter(ctx context.Context, id string) (statemachine.Record, error) {
	cmd, err := statemachine.NewCreateCommand(id)
	if err != nil {
		return statemachine.Record{}, err
	}
	return n.Submit(ctx, cmd)
}

func (n *Node) ReserveScooter(ctx context.Context, id, reservationID string) (statemachine.Record, error) {
	cmd, err := statemachine.NewReserveCommand(id, reservationID)
	if err != nil {
		return statemachine.Record{}, err
	}
	return n.Submit(ctx, cmd)
}

func (n *Node) ReleaseScooter(ctx context.Context, id string, distance int64) (statemachine.Record, error) {
	cmd, err := statemachine.NewReleaseCommand(id, distance)
	if err != nil {
		return statemachine.Record{}, err
	}
	return n.Submit(ctx, cmd)
}

// Get and List serve reads directly from the local state machine: a
// node only ever goes ACTIVE once it is caught up, so a local read is
// never more than one in-flight Apply away from the cluster's view.
func (n *Node) Get(id string) (statemachine.Record, bool) {
	return n.fleet.Get(id)
}

func (n *Node) List() []statemachine.Record {
	return n.fleet.List()
}

// TriggerSnapshot runs the snapshot protocol on demand, for the
// operator-facing /snapshot endpoint and for automatic compaction.
func (n *Node) TriggerSnapshot() (snapshot.Snapshot, error) {
	snap, err := n.snapEngine.Capture()
	if err == nil && n.metrics != nil {
		n.metrics.SnapshotsTotal.Inc()
	}
	return snap, err
}

// --- rpc.Handler ---

func (n *Node) HandlePrepare(args rpc.PrepareArgs) (rpc.PrepareReply, error) {
	return rpc.PrepareReply{Msg: n.acceptor.OnPrepare(args.Msg)}, nil
}

func (n *Node) HandleAccept(args rpc.AcceptArgs) (rpc.AcceptReply, error) {
	accepted := n.acceptor.OnAccept(args.Msg)
	if accepted.OK {
		// Our own acceptor just accepted a value: our learner must hear
		// about it too, not just the proposer that sent this Accept.
		n.learner.HandleAccepted(accepted, args.Msg.Value)
	}
	return rpc.AcceptReply{Msg: accepted}, nil
}

func (n *Node) HandleLearn(args rpc.LearnArgs) (rpc.LearnReply, error) {
	n.learner.HandleLearn(args.Msg)
	return rpc.LearnReply{}, nil
}

func (n *Node) HandleDescribeState(rpc.DescribeStateArgs) (rpc.DescribeStateReply, error) {
	snap, hasSnap := n.snapEngine.Current()
	return rpc.DescribeStateReply{
		NodeID:       n.id,
		FirstSlot:    n.log.FirstSlot(),
		AppliedIndex: n.log.AppliedIndex(),
		HasSnapshot:  hasSnap,
		SnapshotSlot: snap.LastIncludedSlot,
	}, nil
}

func (n *Node) HandleFetchSnapshot(rpc.FetchSnapshotArgs) (rpc.FetchSnapshotReply, error) {
	snap, ok := n.snapEngine.Current()
	if !ok {
		return rpc.FetchSnapshotReply{}, nil
	}
	return rpc.FetchSnapshotReply{HasSnapshot: true, LastIncludedSlot: snap.LastIncludedSlot, State: snap.State}, nil
}

func (n *Node) HandleFetchLogRange(args rpc.FetchLogRangeArgs) (rpc.FetchLogRangeReply, error) {
	slots, values, err := n.log.Range(args.Lo, args.Hi)
	if err != nil {
		return rpc.FetchLogRangeReply{}, err
	}
	return rpc.FetchLogRangeReply{Slots: slots, Values: values}, nil
}

func (n *Node) HandleForwardWrite(args rpc.ForwardWriteArgs) (rpc.ForwardWriteReply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.roundTimeout*4)
	defer cancel()
	record, err := n.Submit(ctx, args.Cmd)
	if err != nil {
		return rpc.ForwardWriteReply{Record: record, Err: err.Error(), ErrCode: errCodeFor(err)}, nil
	}
	return rpc.ForwardWriteReply{Record: record}, nil
}
