package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scooterfleet/scooterpaxos/internal/applier"
	"github.com/scooterfleet/scooterpaxos/internal/cluster"
	"github.com/scooterfleet/scooterpaxos/internal/paxos"
	"github.com/scooterfleet/scooterpaxos/internal/replog"
	"github.com/scooterfleet/scooterpaxos/internal/rpc"
	"github.com/scooterfleet/scooterpaxos/internal/snapshot"
	"github.com/scooterfleet/scooterpaxos/internal/statemachine"
	"github.com/scooterfleet/scooterpaxos/internal/storage"
)

// fakePeerClient scripts DescribeState/FetchSnapshot/FetchLogRange
// replies per peer ID, standing in for internal/rpc.Client or
// internal/transport.MemoryTransport.
type fakePeerClient struct {
	describe map[int]rpc.DescribeStateReply
	snap     map[int]rpc.FetchSnapshotReply
	logRange map[int]rpc.FetchLogRangeReply
	fail     map[int]bool
}

func newFakePeerClient() *fakePeerClient {
	return &fakePeerClient{
		describe: make(map[int]rpc.DescribeStateReply),
		snap:     make(map[int]rpc.FetchSnapshotReply),
		logRange: make(map[int]rpc.FetchLogRangeReply),
		fail:     make(map[int]bool),
	}
}

func (f *fakePeerClient) DescribeState(ctx context.Context, peer int) (rpc.DescribeStateReply, error) {
	if f.fail[peer] {
		return rpc.DescribeStateReply{}, context.DeadlineExceeded
	}
	return f.describe[peer], nil
}

func (f *fakePeerClient) FetchSnapshot(ctx context.Context, peer int) (rpc.FetchSnapshotReply, error) {
	return f.snap[peer], nil
}

func (f *fakePeerClient) FetchLogRange(ctx context.Context, peer int, lo, hi int64) (rpc.FetchLogRangeReply, error) {
	return f.logRange[peer], nil
}

func newEngine(t *testing.T, log *replog.Log) *snapshot.Engine {
	t.Helper()
	fleet := statemachine.New()
	app := applier.New(log, fleet)
	acceptor := paxos.NewAcceptor(1)
	learner := paxos.NewLearner(1, func(slot int64, _ paxos.Round, value paxos.Command) {
		log.MarkChosen(slot, value)
	})
	store := storage.NewMemoryStore()
	return snapshot.New(log, fleet, app, acceptor, learner, store, 1000)
}

func newTestDir(self int) *cluster.Directory {
	return cluster.New(self, []cluster.Peer{
		{ID: 1, Addr: "a"},
		{ID: 2, Addr: "b"},
		{ID: 3, Addr: "c"},
	})
}

func TestCoordinatorSingleNodeClusterSkipsRecovery(t *testing.T) {
	dir := cluster.New(1, []cluster.Peer{{ID: 1, Addr: "a"}})
	log := replog.New()
	engine := newEngine(t, log)
	c := New(dir, newFakePeerClient(), log, engine, 10*time.Millisecond, 1, zerolog.Nop())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("single-node recovery should be a no-op, got: %v", err)
	}
}

func TestCoordinatorNoPeerAheadIsNoop(t *testing.T) {
	dir := newTestDir(1)
	log := replog.New()
	engine := newEngine(t, log)
	client := newFakePeerClient()
	client.describe[2] = rpc.DescribeStateReply{AppliedIndex: -1}
	client.describe[3] = rpc.DescribeStateReply{AppliedIndex: -1}

	c := New(dir, client, log, engine, 10*time.Millisecond, 1, zerolog.Nop())
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("recovery with no peer ahead should be a no-op, got: %v", err)
	}
	if log.AppliedIndex() != -1 {
		t.Fatalf("applied index should be untouched, got %d", log.AppliedIndex())
	}
}

func TestCoordinatorReplaysLogFromAheadPeer(t *testing.T) {
	dir := newTestDir(1)
	log := replog.New()
	engine := newEngine(t, log)
	client := newFakePeerClient()

	cmd1, _ := statemachine.NewCreateCommand("sc-1")
	cmd2, _ := statemachine.NewCreateCommand("sc-2")
	client.describe[2] = rpc.DescribeStateReply{AppliedIndex: 1, HasSnapshot: false}
	client.describe[3] = rpc.DescribeStateReply{AppliedIndex: -1}
	client.logRange[2] = rpc.FetchLogRangeReply{
		Slots:  []int64{0, 1},
		Values: []paxos.Command{cmd1, cmd2},
	}

	c := New(dir, client, log, engine, 10*time.Millisecond, 1, zerolog.Nop())
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if log.ChosenIndex() != 1 {
		t.Fatalf("expected log replay to mark slots 0 and 1 chosen, chosenIndex=%d", log.ChosenIndex())
	}
}

func TestCoordinatorInstallsSnapshotWhenBehindBoundary(t *testing.T) {
	dir := newTestDir(1)
	log := replog.New()
	engine := newEngine(t, log)
	client := newFakePeerClient()

	sourceFleet := statemachine.New()
	cmd, _ := statemachine.NewCreateCommand("sc-1")
	sourceFleet.Apply(cmd)
	state, err := sourceFleet.Snapshot()
	if err != nil {
		t.Fatalf("source snapshot: %v", err)
	}

	client.describe[2] = rpc.DescribeStateReply{AppliedIndex: 4, HasSnapshot: true, SnapshotSlot: 4}
	client.describe[3] = rpc.DescribeStateReply{AppliedIndex: -1}
	client.snap[2] = rpc.FetchSnapshotReply{HasSnapshot: true, LastIncludedSlot: 4, State: state}
	client.logRange[2] = rpc.FetchLogRangeReply{} // nothing past the snapshot boundary

	c := New(dir, client, log, engine, 10*time.Millisecond, 1, zerolog.Nop())
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if log.AppliedIndex() != 4 {
		t.Fatalf("expected snapshot install to advance appliedIndex to 4, got %d", log.AppliedIndex())
	}
}

func TestCoordinatorFailsWhenNoPeerEverResponds(t *testing.T) {
	dir := newTestDir(1)
	log := replog.New()
	engine := newEngine(t, log)
	client := newFakePeerClient()
	client.fail[2] = true
	client.fail[3] = true

	c := New(dir, client, log, engine, 5*time.Millisecond, 1, zerolog.Nop())
	err := c.Run(context.Background())
	if err != ErrRecoveryFailure {
		t.Fatalf("expected ErrRecoveryFailure, got %v", err)
	}
}
