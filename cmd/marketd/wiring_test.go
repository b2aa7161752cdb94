package main

import (
	"context"
	"testing"

	"AgentMarket-Chain/internal/config"
	"AgentMarket-Chain/internal/registry"
	"AgentMarket-Chain/internal/settlement"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Web3.ChainID = 48816
	cfg.Web3.ExplorerURL = "https://explorer.testnet3.goat.network"
	cfg.Registry.DefaultPriceUSDT = "0.10"
	cfg.Registry.TimeoutSeconds = 1
	cfg.Registry.Cache.Driver = "memory"
	cfg.Registry.Cache.TTLSeconds = 60
	cfg.Settlement.Mode = config.SettlementSimulated
	cfg.Settlement.MerchantID = "agents_marketplace"
	cfg.Jobs.TTLSeconds = 60
	cfg.Jobs.Store.Driver = "memory"
	cfg.Jobs.Queue.Driver = "memory"
	return cfg
}

func TestBuildResolverWithoutChainsUsesFallback(t *testing.T) {
	resolver, closeCache, err := buildResolver(testConfig(), nil)
	if err != nil {
		t.Fatalf("build resolver: %v", err)
	}
	defer closeCache()

	dir := resolver.ListAgents(context.Background())
	if dir.Origin != registry.OriginFallback {
		t.Fatalf("expected fallback origin, got %s", dir.Origin)
	}
	if len(dir.Agents) != 3 {
		t.Fatalf("expected 3 fallback agents, got %d", len(dir.Agents))
	}
}

func TestBuildResolverRejectsUnknownCache(t *testing.T) {
	cfg := testConfig()
	cfg.Registry.Cache.Driver = "memcached"
	if _, _, err := buildResolver(cfg, nil); err == nil {
		t.Fatal("expected error for unknown cache driver")
	}
}

func TestBuildSettlementSimulated(t *testing.T) {
	engine, err := buildSettlement(testConfig(), nil, buildAlerts(testConfig()))
	if err != nil {
		t.Fatalf("build settlement: %v", err)
	}
	if engine.Mode() != settlement.ModeSimulated || engine.ChainID() != 48816 {
		t.Fatalf("unexpected engine mode=%s chain=%d", engine.Mode(), engine.ChainID())
	}
}

func TestBuildJobsDrivers(t *testing.T) {
	store, queue, err := buildJobs(testConfig())
	if err != nil {
		t.Fatalf("build jobs: %v", err)
	}
	_ = store.Close()
	_ = queue.Close()

	cfg := testConfig()
	cfg.Jobs.Queue.Driver = "kafka"
	if _, _, err := buildJobs(cfg); err == nil {
		t.Fatal("expected error for unknown queue driver")
	}
}

func TestBuildAgentHostDisabledWithoutKey(t *testing.T) {
	cfg := testConfig()
	cfg.AgentHost.Enabled = true
	engine, err := buildSettlement(cfg, nil, nil)
	if err != nil {
		t.Fatalf("build settlement: %v", err)
	}
	host, err := buildAgentHost(cfg, engine)
	if err != nil || host != nil {
		t.Fatalf("expected no host without an api key, got %v %v", host, err)
	}
}
