// Command scooterd runs a single scooterpaxos cluster node: the Paxos
// engine, its peer RPC listener, the HTTP API, and a Prometheus
// metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/scooterfleet/scooterpaxos/internal/api"
	"github.com/scooterfleet/scooterpaxos/internal/cluster"
	"github.com/scooterfleet/scooterpaxos/internal/config"
	"github.com/scooterfleet/scooterpaxos/internal/logging"
	"github.com/scooterfleet/scooterpaxos/internal/metrics"
	"github.com/scooterfleet/scooterpaxos/internal/node"
	"github.com/scooterfleet/scooterpaxos/internal/rpc"
	"github.com/scooterfleet/scooterpaxos/internal/storage"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "scooterd",
		Short: "Run a scooterpaxos cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a node config file (yaml/json/toml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.NodeID, cfg.Debug)

	peers := make([]cluster.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, cluster.Peer{ID: p.ID, Addr: p.Addr})
	}
	dir := cluster.New(cfg.NodeID, peers)

	rpcClient := rpc.NewClient(dir, cfg.DialTimeout)
	defer rpcClient.Close()

	registry := prometheus.NewRegistry()

	n := node.New(node.Config{
		Directory:           dir,
		PeerClient:          rpcClient,
		Store:               storage.NewMemoryStore(),
		RoundTimeout:        cfg.RoundTimeout,
		CompactionThreshold: cfg.CompactionThreshold,
		RecoveryTimeout:     cfg.RecoveryTimeout,
		RecoveryRetries:     cfg.RecoveryRetries,
		Logger:              log,
	})
	n.SetMetrics(metrics.New(registry, cfg.NodeID, n.ReplicatedLog()))

	rpcServer, err := rpc.Serve(cfg.RPCAddr, n, log)
	if err != nil {
		return fmt.Errorf("scooterd: start rpc server: %w", err)
	}
	defer rpcServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("scooterd: node start: %w", err)
	}
	defer n.Stop()

	apiServer := api.New(n, log, cfg.RoundTimeout*8)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("scooterd: http api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("scooterd: http api server failed")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("scooterd: metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("scooterd: metrics server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("scooterd: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RoundTimeout*8)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}
