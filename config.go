package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/p2pclouds/powledger/crypto"
	"github.com/p2pclouds/powledger/ledger"
	"github.com/p2pclouds/powledger/protocol/params"
)

// Config is the resolved node configuration.
type Config struct {
	Network string

	LogLevel  string
	LogFormat string

	APIListen string
	APIToken  string
	APICookie string

	MiningEnabled bool
	MiningThreads int
	RewardAddress string
	Fee           uint64

	MaxPending int
	MaxOrphans int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", "mainnet")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("api.listen", "127.0.0.1:8545")
	v.SetDefault("api.token", "")
	v.SetDefault("api.cookie", "")
	v.SetDefault("mining.enabled", false)
	v.SetDefault("mining.threads", 1)
	v.SetDefault("mining.reward_address", "")
	v.SetDefault("mining.reward_pubkey", "")
	v.SetDefault("mining.fee", 0)
	v.SetDefault("ledger.max_pending", ledger.DefaultMaxPending)
	v.SetDefault("ledger.max_orphans", ledger.DefaultMaxOrphans)
}

// newViper returns a viper instance with defaults and POWLEDGER_ environment
// overrides, e.g. POWLEDGER_MINING_THREADS.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("powledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfigFile merges path into v. An empty path looks for powledger.yaml
// in the working directory and is fine to miss.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("powledger")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Network:       v.GetString("network"),
		LogLevel:      v.GetString("log.level"),
		LogFormat:     v.GetString("log.format"),
		APIListen:     v.GetString("api.listen"),
		APIToken:      v.GetString("api.token"),
		APICookie:     v.GetString("api.cookie"),
		MiningEnabled: v.GetBool("mining.enabled"),
		MiningThreads: v.GetInt("mining.threads"),
		RewardAddress: v.GetString("mining.reward_address"),
		Fee:           v.GetUint64("mining.fee"),
		MaxPending:    v.GetInt("ledger.max_pending"),
		MaxOrphans:    v.GetInt("ledger.max_orphans"),
	}

	p, err := params.ByName(cfg.Network)
	if err != nil {
		return Config{}, err
	}
	if pub := v.GetString("mining.reward_pubkey"); pub != "" {
		if cfg.RewardAddress != "" {
			return Config{}, fmt.Errorf("set mining.reward_address or mining.reward_pubkey, not both")
		}
		addr, err := crypto.AddressFromPubKeyHex(pub, p.AddressVersion)
		if err != nil {
			return Config{}, fmt.Errorf("mining.reward_pubkey: %w", err)
		}
		cfg.RewardAddress = addr
	}
	cfg.MiningThreads = clampThreads(cfg.MiningThreads)
	if cfg.MaxPending < 1 || cfg.MaxOrphans < 1 {
		return Config{}, fmt.Errorf("ledger limits must be positive")
	}
	return cfg, nil
}

// maxThreads is the most mining threads the node will run.
func maxThreads() int {
	if n := runtime.NumCPU(); n > 1 {
		return n
	}
	return 1
}

func clampThreads(n int) int {
	if n < 1 {
		return 1
	}
	if max := maxThreads(); n > max {
		return max
	}
	return n
}
