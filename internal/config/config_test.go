package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const minimalYAML = `
node_id: 1
peers:
  - id: 1
    addr: 127.0.0.1:7001
  - id: 2
    addr: 127.0.0.1:7002
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default http_addr, got %q", cfg.HTTPAddr)
	}
	if cfg.RoundTimeout != 250*time.Millisecond {
		t.Fatalf("expected default round_timeout, got %v", cfg.RoundTimeout)
	}
	if cfg.CompactionThreshold != 500 {
		t.Fatalf("expected default compaction_threshold, got %d", cfg.CompactionThreshold)
	}
	if cfg.RecoveryRetries != 5 {
		t.Fatalf("expected default recovery_retries, got %d", cfg.RecoveryRetries)
	}
}

func TestLoadReadsExplicitPeersAndNodeID(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NodeID != 1 || len(cfg.Peers) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsEmptyPeers(t *testing.T) {
	path := writeConfigFile(t, "node_id: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error loading a config with no peers")
	}
}

func TestLoadRejectsNodeIDNotInPeers(t *testing.T) {
	path := writeConfigFile(t, `
node_id: 99
peers:
  - id: 1
    addr: 127.0.0.1:7001
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when node_id is absent from the peer list")
	}
}

func TestLoadEnvVarOverridesFile(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	t.Setenv("SCOOTERD_HTTP_ADDR", "0.0.0.0:9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:9999" {
		t.Fatalf("expected env var to override file value, got %q", cfg.HTTPAddr)
	}
}

func TestLoadDebugDefaultsFalse(t *testing.T) {
	path := writeConfigFile(t, minimalYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Debug {
		t.Fatal("expected debug to default to false")
	}
}
