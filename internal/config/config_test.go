package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsToSimulated(t *testing.T) {
	t.Setenv("GOATX402_API_KEY", "")
	t.Setenv("AGENT_PRIVATE_KEY", "")

	path := writeConfig(t, `{"registry":{"fallback_file":"agents.yaml"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Settlement.Mode != SettlementSimulated {
		t.Fatalf("expected simulated mode, got %s", cfg.Settlement.Mode)
	}
	if cfg.Settlement.PollInterval() != 2*time.Second || cfg.Settlement.PollTimeout() != 30*time.Second {
		t.Fatalf("unexpected poll settings: %v %v", cfg.Settlement.PollInterval(), cfg.Settlement.PollTimeout())
	}
	if cfg.Invoker.TimeoutSeconds != 10 {
		t.Fatalf("unexpected invoker timeout %d", cfg.Invoker.TimeoutSeconds)
	}
	if cfg.Invoker.LocalBaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected local base url %s", cfg.Invoker.LocalBaseURL)
	}
	if cfg.Registry.FallbackFile != filepath.Join(filepath.Dir(path), "agents.yaml") {
		t.Fatalf("fallback file not resolved against config dir: %s", cfg.Registry.FallbackFile)
	}
	if cfg.Registry.DefaultPriceUSDT != "0.10" {
		t.Fatalf("unexpected default price %s", cfg.Registry.DefaultPriceUSDT)
	}
}

func TestLoadAutoBecomesLiveWithCredentials(t *testing.T) {
	t.Setenv("GOATX402_API_KEY", "key")
	t.Setenv("AGENT_PRIVATE_KEY", "0x01")
	t.Setenv("SUMMARIZER_KEY", "merchant-key")

	path := writeConfig(t, `{
		"settlement": {
			"token_address": "0x0000000000000000000000000000000000000001",
			"merchants": {"summarizer": {"api_key_env": "SUMMARIZER_KEY"}}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Settlement.Mode != SettlementLive {
		t.Fatalf("expected live mode, got %s", cfg.Settlement.Mode)
	}
	if got := cfg.Settlement.MerchantCredentials["summarizer"]; got != "merchant-key" {
		t.Fatalf("merchant credential not resolved: %q", got)
	}
}

func TestLoadRejectsLiveWithoutCredentials(t *testing.T) {
	t.Setenv("GOATX402_API_KEY", "")
	t.Setenv("AGENT_PRIVATE_KEY", "")

	path := writeConfig(t, `{"settlement":{"mode":"live"}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for live mode without credentials")
	}
}

func TestLoadRejectsMerchantWithoutKey(t *testing.T) {
	path := writeConfig(t, `{"settlement":{"merchants":{"translator":{"api_key_env":"MISSING_MERCHANT_KEY"}}}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for merchant without credential")
	}
}
