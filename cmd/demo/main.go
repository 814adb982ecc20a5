// Command demo runs a five-node scooterpaxos cluster in a single
// process over the in-memory transport, and walks through the scenarios
// the system is meant to survive: ordinary writes, concurrent
// conflicting reservations, snapshot + log compaction, and a node
// crashing and recovering from its peers.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scooterfleet/scooterpaxos/internal/cluster"
	"github.com/scooterfleet/scooterpaxos/internal/logging"
	"github.com/scooterfleet/scooterpaxos/internal/node"
	"github.com/scooterfleet/scooterpaxos/internal/storage"
	"github.com/scooterfleet/scooterpaxos/internal/transport"
)

const numNodes = 5

func buildDirectory(self int) *cluster.Directory {
	peers := make([]cluster.Peer, numNodes)
	for i := 0; i < numNodes; i++ {
		peers[i] = cluster.Peer{ID: i, Addr: fmt.Sprintf("mem:%d", i)}
	}
	return cluster.New(self, peers)
}

func newNode(id int, network *transport.Network) *node.Node {
	dir := buildDirectory(id)
	mt := transport.NewMemoryTransport(id, dir.All(), network)
	logger := logging.New(id, false)
	n := node.New(node.Config{
		Directory:           dir,
		PeerClient:          mt,
		Store:               storage.NewMemoryStore(),
		RoundTimeout:        150 * time.Millisecond,
		CompactionThreshold: 8,
		RecoveryTimeout:     150 * time.Millisecond,
		RecoveryRetries:     3,
		Logger:              logger,
	})
	network.Register(id, n)
	return n
}

func mustStart(ctx context.Context, n *node.Node) {
	if err := n.Start(ctx); err != nil {
		log.Fatalf("node %d failed to start: %v", n.ID(), err)
	}
}

func main() {
	ctx := context.Background()
	network := transport.NewNetwork()

	nodes := make([]*node.Node, numNodes)
	for i := 0; i < numNodes; i++ {
		nodes[i] = newNode(i, network)
	}
	for _, n := range nodes {
		mustStart(ctx, n)
	}
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()

	fmt.Println("=== creating scooters ===")
	for _, id := range []string{"sc-1", "sc-2", "sc-3"} {
		record, err := nodes[0].CreateScooter(ctx, id)
		if err != nil {
			log.Fatalf("create %s: %v", id, err)
		}
		fmt.Printf("created %+v\n", record)
	}

	fmt.Println("=== concurrent reservations on sc-1 ===")
	results := make(chan error, 2)
	go func() {
		_, err := nodes[1].ReserveScooter(ctx, "sc-1", "res-A")
		results <- err
	}()
	go func() {
		_, err := nodes[2].ReserveScooter(ctx, "sc-1", "res-B")
		results <- err
	}()
	errA, errB := <-results, <-results
	succeeded := 0
	for _, err := range []error{errA, errB} {
		if err == nil {
			succeeded++
		}
	}
	fmt.Printf("exactly one reservation should win: succeeded=%d\n", succeeded)

	record, _ := nodes[3].Get("sc-1")
	fmt.Printf("sc-1 after contested reserve: %+v\n", record)

	if _, err := nodes[0].ReleaseScooter(ctx, "sc-1", 1200); err != nil {
		log.Fatalf("release sc-1: %v", err)
	}
	record, _ = nodes[4].Get("sc-1")
	fmt.Printf("sc-1 after release: %+v\n", record)

	fmt.Println("=== triggering snapshot + log compaction ===")
	if _, err := nodes[0].TriggerSnapshot(); err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	fmt.Println("snapshot captured")

	fmt.Println("=== crashing and recovering node 2 ===")
	nodes[2].Stop()
	nodes[2] = newNode(2, network) // fresh state + fresh store, simulating a crash-restart
	mustStart(ctx, nodes[2])

	record, ok := nodes[2].Get("sc-1")
	fmt.Printf("node 2 after recovery sees sc-1: %+v (found=%v)\n", record, ok)

	fmt.Println("=== final fleet listing from every node ===")
	for _, n := range nodes {
		fmt.Printf("node %d: %+v\n", n.ID(), n.List())
	}
}
