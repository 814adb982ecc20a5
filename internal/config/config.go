// Package config loads a node's static configuration: its own ID, the
// fixed peer list, listen addresses, and the handful of protocol
// timeouts/thresholds. Membership is config, not a runtime protocol —
// changing the cluster means editing this and restarting every node.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// PeerConfig is one entry in the static peer list.
type PeerConfig struct {
	ID   int    `mapstructure:"id"`
	Addr string `mapstructure:"addr"`
}

// Config is a single node's full configuration.
type Config struct {
	NodeID      int          `mapstructure:"node_id"`
	Peers       []PeerConfig `mapstructure:"peers"`
	HTTPAddr    string       `mapstructure:"http_addr"`
	RPCAddr     string       `mapstructure:"rpc_addr"`
	MetricsAddr string       `mapstructure:"metrics_addr"`

	RoundTimeout        time.Duration `mapstructure:"round_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	CompactionThreshold int64         `mapstructure:"compaction_threshold"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout"`
	RecoveryRetries     int           `mapstructure:"recovery_retries"`

	Debug bool `mapstructure:"debug"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("rpc_addr", "127.0.0.1:7070")
	v.SetDefault("metrics_addr", "127.0.0.1:9090")
	v.SetDefault("round_timeout", 250*time.Millisecond)
	v.SetDefault("dial_timeout", 1*time.Second)
	v.SetDefault("compaction_threshold", int64(500))
	v.SetDefault("recovery_timeout", 500*time.Millisecond)
	v.SetDefault("recovery_retries", 5)
	v.SetDefault("debug", false)
}

// Load reads configuration from path (if non-empty), then SCOOTERD_*
// environment variables, with the defaults above filling in anything
// neither sets.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("scooterd")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("config: peers must not be empty")
	}
	found := false
	for _, p := range c.Peers {
		if p.ID == c.NodeID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("config: node_id %d is not present in peers", c.NodeID)
	}
	return nil
}
