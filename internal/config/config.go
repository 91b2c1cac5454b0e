package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Chain  ChainConfig
	Nonce  NonceConfig
	Redis  RedisConfig
	Queue  QueueConfig
	Verify VerifyConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ChainConfig struct {
	// RPCURLs maps decimal chain id → RPC endpoint. RPCURL/ChainID are a
	// single-network shortcut for env-only deployments.
	RPCURLs map[string]string `mapstructure:"rpc_urls"`
	RPCURL  string            `mapstructure:"rpc_url"`
	ChainID int64             `mapstructure:"chain_id"`
	// DefaultChainID is the fallback for protocol v1 payloads carrying an
	// unrecognized network name; zero makes unknown names fail.
	DefaultChainID int64 `mapstructure:"default_chain_id"`
	// WalletPrivateKey signs settlement transactions.
	WalletPrivateKey string `mapstructure:"wallet_private_key"`
}

type NonceConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend          string `mapstructure:"backend"`
	TTLSec           int64  `mapstructure:"ttl_sec"`
	SweepIntervalSec int64  `mapstructure:"sweep_interval_sec"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type QueueConfig struct {
	MaxRetries     int   `mapstructure:"max_retries"`
	RetryDelayMs   int64 `mapstructure:"retry_delay_ms"`
	PollIntervalMs int64 `mapstructure:"poll_interval_ms"`
	Workers        int   `mapstructure:"workers"`
}

type VerifyConfig struct {
	GracePeriodSec int64 `mapstructure:"grace_period_sec"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8402)
	v.SetDefault("nonce.backend", "memory")
	v.SetDefault("nonce.ttl_sec", 3600)
	v.SetDefault("nonce.sweep_interval_sec", 300)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay_ms", 2000)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.workers", 1)
	v.SetDefault("verify.grace_period_sec", 0)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":              "PORT",
		"chain.rpc_url":            "RPC_URL",
		"chain.chain_id":           "CHAIN_ID",
		"chain.default_chain_id":   "DEFAULT_CHAIN_ID",
		"chain.wallet_private_key": "WALLET_PRIVATE_KEY",
		"nonce.backend":            "NONCE_BACKEND",
		"nonce.ttl_sec":            "NONCE_TTL_SEC",
		"nonce.sweep_interval_sec": "NONCE_SWEEP_INTERVAL_SEC",
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"queue.max_retries":        "QUEUE_MAX_RETRIES",
		"queue.retry_delay_ms":     "QUEUE_RETRY_DELAY_MS",
		"queue.poll_interval_ms":   "QUEUE_POLL_INTERVAL_MS",
		"queue.workers":            "QUEUE_WORKERS",
		"verify.grace_period_sec":  "VERIFY_GRACE_PERIOD_SEC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

// Networks merges the rpc_urls map with the single-network shortcut into
// one chainID → URL map.
func (c *Config) Networks() (map[int64]string, error) {
	out := make(map[int64]string)
	for idStr, url := range c.Chain.RPCURLs {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q in chain.rpc_urls", idStr)
		}
		out[id] = url
	}
	if c.Chain.RPCURL != "" {
		if c.Chain.ChainID == 0 {
			return nil, fmt.Errorf("CHAIN_ID is required when RPC_URL is set")
		}
		out[c.Chain.ChainID] = c.Chain.RPCURL
	}
	return out, nil
}

func (c *Config) validate() error {
	if c.Chain.WalletPrivateKey == "" {
		return fmt.Errorf("required config missing: WALLET_PRIVATE_KEY")
	}
	networks, err := c.Networks()
	if err != nil {
		return err
	}
	if len(networks) == 0 {
		return fmt.Errorf("no networks configured: set RPC_URL/CHAIN_ID or chain.rpc_urls")
	}
	switch c.Nonce.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("nonce.backend must be %q or %q, got %q", "memory", "redis", c.Nonce.Backend)
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be at least 1")
	}
	return nil
}
