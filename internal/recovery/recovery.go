// Package recovery implements the startup catch-up protocol: before a
// node accepts client traffic, it interrogates its peers, picks the most-caught-up one, installs a
// snapshot if it is behind one, and replays the log range between the
// snapshot and that peer's applied index.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/scooterfleet/scooterpaxos/internal/cluster"
	"github.com/scooterfleet/scooterpaxos/internal/replog"
	"github.com/scooterfleet/scooterpaxos/internal/rpc"
	"github.com/scooterfleet/scooterpaxos/internal/snapshot"
)

// ErrRecoveryFailure is returned when no peer answered DescribeState
// within the configured timeout and retry budget. A node that cannot
// determine where the cluster is must not go ACTIVE: it could otherwise
// serve a client read against an empty state machine that is actually
// many slots behind. (Its acceptor answers Prepare/Accept in any state.)
var ErrRecoveryFailure = errors.New("recovery: no peer responded before timeout")

// PeerClient is the subset of internal/rpc.Client (or
// internal/transport.MemoryTransport) recovery needs to talk to peers.
type PeerClient interface {
	DescribeState(ctx context.Context, peer int) (rpc.DescribeStateReply, error)
	FetchSnapshot(ctx context.Context, peer int) (rpc.FetchSnapshotReply, error)
	FetchLogRange(ctx context.Context, peer int, lo, hi int64) (rpc.FetchLogRangeReply, error)
}

// Coordinator runs the recovery protocol once at startup (and again,
// idempotently, if it was interrupted partway through).
type Coordinator struct {
	dir     *cluster.Directory
	client  PeerClient
	log     *replog.Log
	engine  *snapshot.Engine
	timeout time.Duration
	retries int
	logger  zerolog.Logger
}

func New(dir *cluster.Directory, client PeerClient, log *replog.Log, engine *snapshot.Engine, timeout time.Duration, retries int, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		dir:     dir,
		client:  client,
		log:     log,
		engine:  engine,
		timeout: timeout,
		retries: retries,
		logger:  logger,
	}
}

// Run executes the protocol: if this is a brand-new single-node
// cluster, or every peer reports no progress either, there is nothing
// to catch up on and Run returns immediately. Otherwise it installs a
// snapshot (if the best peer is ahead of a boundary this node doesn't
// have) and replays the log up to that peer's applied index.
func (c *Coordinator) Run(ctx context.Context) error {
	best, err := c.surveyPeers(ctx)
	if err != nil {
		return err
	}
	if best == nil {
		c.logger.Info().Msg("recovery: no peer ahead of local state, nothing to catch up on")
		return nil
	}

	log := c.logger.With().Int("source_peer", best.NodeID).Int64("applied_index", best.AppliedIndex).Logger()

	if best.HasSnapshot && best.SnapshotSlot > c.log.AppliedIndex() {
		reply, err := c.client.FetchSnapshot(ctx, best.NodeID)
		if err != nil {
			return fmt.Errorf("recovery: fetch snapshot from peer %d: %w", best.NodeID, err)
		}
		if reply.HasSnapshot {
			if err := c.engine.Install(snapshot.Snapshot{LastIncludedSlot: reply.LastIncludedSlot, State: reply.State}); err != nil {
				return fmt.Errorf("recovery: install snapshot from peer %d: %w", best.NodeID, err)
			}
			log.Info().Int64("snapshot_slot", reply.LastIncludedSlot).Msg("recovery: installed snapshot")
		}
	}

	lo := c.log.AppliedIndex() + 1
	if lo < c.log.FirstSlot() {
		lo = c.log.FirstSlot()
	}
	for lo <= best.AppliedIndex {
		reply, err := c.client.FetchLogRange(ctx, best.NodeID, lo, best.AppliedIndex)
		if err != nil {
			return fmt.Errorf("recovery: fetch log range [%d,%d] from peer %d: %w", lo, best.AppliedIndex, best.NodeID, err)
		}
		if len(reply.Slots) == 0 {
			break
		}
		for i, slot := range reply.Slots {
			if err := c.log.MarkProposed(slot, reply.Values[i]); err != nil {
				return fmt.Errorf("recovery: replay slot %d: %w", slot, err)
			}
			if err := c.log.MarkChosen(slot, reply.Values[i]); err != nil {
				return fmt.Errorf("recovery: mark chosen slot %d: %w", slot, err)
			}
		}
		lo = reply.Slots[len(reply.Slots)-1] + 1
	}

	log.Info().Int64("caught_up_to", c.log.AppliedIndex()).Msg("recovery: log replay complete")
	return nil
}

// surveyPeers contacts every peer's DescribeState, retrying up to
// c.retries times if nobody answers at all, and returns whichever reply
// has the highest appliedIndex. Returns (nil, nil) if every reachable
// peer is at or behind this node's own state already.
func (c *Coordinator) surveyPeers(ctx context.Context) (*rpc.DescribeStateReply, error) {
	var best *rpc.DescribeStateReply

	for attempt := 0; attempt <= c.retries; attempt++ {
		best = nil
		answered := 0
		for _, peer := range c.dir.Others() {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			reply, err := c.client.DescribeState(callCtx, peer)
			cancel()
			if err != nil {
				c.logger.Warn().Int("peer", peer).Err(err).Msg("recovery: peer did not respond")
				continue
			}
			answered++
			reply.NodeID = peer
			if best == nil || reply.AppliedIndex > best.AppliedIndex {
				r := reply
				best = &r
			}
		}
		if answered > 0 {
			break
		}
		if attempt < c.retries {
			select {
			case <-time.After(c.timeout):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if best == nil {
		if len(c.dir.Others()) == 0 {
			return nil, nil
		}
		return nil, ErrRecoveryFailure
	}
	if best.AppliedIndex <= c.log.AppliedIndex() {
		return nil, nil
	}
	return best, nil
}
