package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.CreditBatchSize != 100 {
		t.Errorf("CreditBatchSize = %d, want 100", cfg.CreditBatchSize)
	}
	if cfg.CreditBatchInterval != 5*time.Second {
		t.Errorf("CreditBatchInterval = %v, want 5s", cfg.CreditBatchInterval)
	}
	if cfg.StatsBatchSize != 100 {
		t.Errorf("StatsBatchSize = %d, want 100", cfg.StatsBatchSize)
	}
	if !cfg.StatsBackfillEnabled || !cfg.StatsStaleEnabled {
		t.Error("backfill/stale should default to enabled")
	}
	if cfg.EnableDataRetentionCleanup {
		t.Error("data retention cleanup should default to disabled")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CREDIT_BATCH_SIZE", "250")
	t.Setenv("STATS_STALE_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CreditBatchSize != 250 {
		t.Errorf("CreditBatchSize = %d, want 250", cfg.CreditBatchSize)
	}
	if cfg.StatsStaleEnabled {
		t.Error("StatsStaleEnabled should be overridden to false")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/cfg.yaml"
	if err := os.WriteFile(path, []byte("storeDsn: \"postgres://x\"\ncreditBatchSize: 42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDSN != "postgres://x" {
		t.Errorf("StoreDSN = %q", cfg.StoreDSN)
	}
	if cfg.CreditBatchSize != 42 {
		t.Errorf("CreditBatchSize = %d, want 42", cfg.CreditBatchSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err == nil {
		t.Error("expected error for missing storeDsn")
	}
	cfg.StoreDSN = "sqlite://dev.db"
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.BYOKFeePercentage = 1.5
	if err := Validate(cfg); err == nil {
		t.Error("expected error for out-of-range byok fee")
	}
}

func TestKeysForProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "k1, k2 ,k3")
	cfg := Defaults()
	keys := cfg.KeysForProvider("anthropic")
	if len(keys) != 3 || keys[0] != "k1" || keys[2] != "k3" {
		t.Errorf("KeysForProvider = %v", keys)
	}
}
