package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// clearEnv unsets every variable LoadServerConfig reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "ENV", "PORT", "DATABASE_URL", "STORE_DRIVER", "REDIS_URL",
		"DB_MAX_CONNS", "DB_TX_MAX_ATTEMPTS", "DB_LOCK_TIMEOUT",
		"INSURANCE_WINDOW", "INSURANCE_FEE_RATE", "INSURANCE_SWEEP_SCHEDULE", "INSURANCE_AUTO_NOTIFY",
		"NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET", "PAYOUT_MINIMUM",
		"RATE_LIMIT", "CORS_ORIGINS", "MAX_BODY_BYTES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig() error: %v", err)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q, got %q", EnvDevelopment, cfg.Environment)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Addr())
	}
	if cfg.InsuranceWindow != 168*time.Hour {
		t.Errorf("expected 168h window, got %v", cfg.InsuranceWindow)
	}
	if !cfg.InsuranceFeeRate.Equal(decimal.RequireFromString("0.10")) {
		t.Errorf("expected fee rate 0.10, got %s", cfg.InsuranceFeeRate)
	}
	if cfg.InsuranceSweepSchedule != "@hourly" {
		t.Errorf("expected @hourly, got %q", cfg.InsuranceSweepSchedule)
	}
	if cfg.DBTxMaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.DBTxMaxAttempts)
	}
	if cfg.RateLimit.Limit != 300 || cfg.RateLimit.Period != time.Minute {
		t.Errorf("expected 300 per minute, got %d per %v", cfg.RateLimit.Limit, cfg.RateLimit.Period)
	}
	if !cfg.PayoutMinimum.IsZero() {
		t.Errorf("expected zero payout minimum, got %s", cfg.PayoutMinimum)
	}
}

func TestLoadServerConfig_PostgresRequiresURL(t *testing.T) {
	clearEnv(t)
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/roundledger")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig() error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Errorf("expected postgres driver, got %q", cfg.StoreDriver)
	}
}

func TestLoadServerConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"STORE_DRIVER", "sqlite"},
		{"INSURANCE_WINDOW", "a week"},
		{"INSURANCE_WINDOW", "-1h"},
		{"INSURANCE_FEE_RATE", "1.5"},
		{"INSURANCE_FEE_RATE", "ten percent"},
		{"PAYOUT_MINIMUM", "-5"},
		{"RATE_LIMIT", "lots"},
		{"PORT", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.val, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STORE_DRIVER", "memory")
			t.Setenv(tt.key, tt.val)
			if _, err := LoadServerConfig(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoadServerConfig_InvalidEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENV", "invalid")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig() error: %v", err)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("expected %q for invalid ENV, got %q", EnvDevelopment, cfg.Environment)
	}
}

func TestLoadServerConfig_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "roundledger.yml")
	data := []byte(`
env: production
store_driver: memory
port: 9090
insurance:
  window: 72h
  fee_rate: "0.05"
  auto_notify: true
notify:
  webhook_url: https://hooks.example.com/overdue
http:
  cors_origins: [https://app.example.com]
`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9191")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig() error: %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected production, got %q", cfg.Environment)
	}
	if cfg.Port != 9191 {
		t.Errorf("expected env PORT to win, got %d", cfg.Port)
	}
	if cfg.InsuranceWindow != 72*time.Hour {
		t.Errorf("expected 72h from file, got %v", cfg.InsuranceWindow)
	}
	if !cfg.InsuranceFeeRate.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected 0.05 from file, got %s", cfg.InsuranceFeeRate)
	}
	if !cfg.InsuranceAutoNotify {
		t.Error("expected auto notify from file")
	}
	if cfg.NotifyWebhookURL != "https://hooks.example.com/overdue" {
		t.Errorf("unexpected webhook URL %q", cfg.NotifyWebhookURL)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}

	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("INSURANCE_AUTO_NOTIFY", "false")
	cfg, err = LoadServerConfig()
	if err != nil {
		t.Fatalf("LoadServerConfig() error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("expected env CORS origins, got %v", cfg.CORSOrigins)
	}
	if cfg.InsuranceAutoNotify {
		t.Error("expected env to disable auto notify")
	}
}

func TestFileConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "roundledger.yml")
	if err := ExampleFile().Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if loaded.Insurance.Window != "168h0m0s" {
		t.Errorf("unexpected window %q", loaded.Insurance.Window)
	}
	if loaded.StoreDriver != StoreDriverPostgres {
		t.Errorf("unexpected driver %q", loaded.StoreDriver)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Port != 0 {
		t.Errorf("expected empty config, got port %d", cfg.Port)
	}
}
