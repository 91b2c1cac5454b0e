package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_ID", "84532")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8402 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Nonce.Backend != "memory" {
		t.Errorf("nonce backend = %q", cfg.Nonce.Backend)
	}
	if cfg.Nonce.TTLSec != 3600 {
		t.Errorf("nonce ttl = %d", cfg.Nonce.TTLSec)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("max retries = %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.Workers != 1 {
		t.Errorf("workers = %d", cfg.Queue.Workers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_ID", "8453")
	t.Setenv("PORT", "9000")
	t.Setenv("NONCE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("QUEUE_WORKERS", "4")
	t.Setenv("VERIFY_GRACE_PERIOD_SEC", "30")
	t.Setenv("DEFAULT_CHAIN_ID", "8453")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Nonce.Backend != "redis" {
		t.Errorf("nonce backend = %q", cfg.Nonce.Backend)
	}
	if cfg.Redis.Addr != "localhost:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("workers = %d", cfg.Queue.Workers)
	}
	if cfg.Verify.GracePeriodSec != 30 {
		t.Errorf("grace period = %d", cfg.Verify.GracePeriodSec)
	}
	if cfg.Chain.DefaultChainID != 8453 {
		t.Errorf("default chain id = %d", cfg.Chain.DefaultChainID)
	}
}

func TestLoadRequiresWalletKey(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", "")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_ID", "8453")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without a wallet key")
	}
}

func TestLoadRequiresNetwork(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("RPC_URL", "")
	t.Setenv("CHAIN_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded with no networks")
	}
}

func TestLoadRejectsBadNonceBackend(t *testing.T) {
	t.Setenv("WALLET_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_ID", "8453")
	t.Setenv("NONCE_BACKEND", "dynamo")

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted an unknown nonce backend")
	}
}

func TestNetworksMap(t *testing.T) {
	cfg := &Config{}
	cfg.Chain.RPCURLs = map[string]string{
		"8453":  "https://base.example",
		"84532": "https://base-sepolia.example",
	}
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Chain.ChainID = 31337

	networks, err := cfg.Networks()
	if err != nil {
		t.Fatalf("Networks: %v", err)
	}
	if len(networks) != 3 {
		t.Fatalf("len = %d", len(networks))
	}
	if networks[31337] != "http://localhost:8545" {
		t.Errorf("shortcut network = %q", networks[31337])
	}
	if networks[8453] != "https://base.example" {
		t.Errorf("mapped network = %q", networks[8453])
	}
}

func TestNetworksRejectsBadChainID(t *testing.T) {
	cfg := &Config{}
	cfg.Chain.RPCURLs = map[string]string{"base": "https://base.example"}
	if _, err := cfg.Networks(); err == nil {
		t.Fatal("Networks accepted a non-numeric chain id key")
	}
}

func TestNetworksShortcutRequiresChainID(t *testing.T) {
	cfg := &Config{}
	cfg.Chain.RPCURL = "http://localhost:8545"
	if _, err := cfg.Networks(); err == nil {
		t.Fatal("Networks accepted RPC_URL without CHAIN_ID")
	}
}
