// Package config loads daemon configuration from YAML files and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hyperchain-net/hyperchain/shard"
	"github.com/hyperchain-net/hyperchain/storage"
)

// SeedMember identifies a shard member to subscribe to on startup.
type SeedMember struct {
	PublicKey string `mapstructure:"public_key" json:"public_key"`
	Address   string `mapstructure:"address" json:"address"`
}

// Config holds all daemon configuration. Fields mirror the YAML file.
type Config struct {
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	Shard struct {
		Name       string       `mapstructure:"name" json:"name"`
		ListenAddr string       `mapstructure:"listen_addr" json:"listen_addr"`
		Seeds      []SeedMember `mapstructure:"seeds" json:"seeds"`

		TickInterval        time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
		MaxSubscribers      int           `mapstructure:"max_subscribers" json:"max_subscribers"`
		MaxSubscriptions    int           `mapstructure:"max_subscriptions" json:"max_subscriptions"`
		AcceptSubscriptions bool          `mapstructure:"accept_subscriptions" json:"accept_subscriptions"`
	} `mapstructure:"shard" json:"shard"`

	Storage struct {
		ChunkSize uint64 `mapstructure:"chunk_size" json:"chunk_size"`
		// Backend selects the index implementation: "files" (chunked
		// JSON + binary log) or "leveldb".
		Backend string `mapstructure:"backend" json:"backend"`
	} `mapstructure:"storage" json:"storage"`

	Producer struct {
		Enabled              bool          `mapstructure:"enabled" json:"enabled"`
		Interval             time.Duration `mapstructure:"interval" json:"interval"`
		MaxBlockTransactions int           `mapstructure:"max_block_transactions" json:"max_block_transactions"`
	} `mapstructure:"producer" json:"producer"`

	RPC struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
		AuthToken  string `mapstructure:"auth_token" json:"auth_token"`
	} `mapstructure:"rpc" json:"rpc"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// Default returns a runnable configuration for a single local node.
func Default() *Config {
	cfg := new(Config)
	cfg.DataDir = "data"
	cfg.Shard.Name = "mainnet"
	cfg.Shard.ListenAddr = ":9871"
	cfg.Shard.TickInterval = 100 * time.Millisecond
	cfg.Shard.MaxSubscribers = 32
	cfg.Shard.MaxSubscriptions = 32
	cfg.Shard.AcceptSubscriptions = true
	cfg.Storage.ChunkSize = storage.DefaultChunkSize
	cfg.Storage.Backend = "files"
	cfg.Producer.Interval = 2 * time.Second
	cfg.RPC.ListenAddr = ":9872"
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the configuration file at path and merges environment
// overrides (prefix HYPERCHAIN_, e.g. HYPERCHAIN_RPC_LISTEN_ADDR).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("hyperchain")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// ShardOptions translates the configuration into overlay options.
func (c *Config) ShardOptions() shard.Options {
	options := shard.DefaultOptions()
	if c.Shard.MaxSubscribers > 0 {
		options.MaxSubscribers = c.Shard.MaxSubscribers
	}
	if c.Shard.MaxSubscriptions > 0 {
		options.MaxSubscriptions = c.Shard.MaxSubscriptions
	}
	options.AcceptSubscriptions = c.Shard.AcceptSubscriptions
	return options
}
