package config

import (
	"strings"
	"testing"
	"time"
)

func setAPIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/packrip")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("PACKRIP_TRADE_REF_SECRET", "secret")
	t.Setenv("PORT", "")
}

func TestLoadAPIDefaults(t *testing.T) {
	setAPIEnv(t)
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.SupabaseURL != "https://example.supabase.co" {
		t.Fatalf("supabase url = %q", cfg.SupabaseURL)
	}
	if cfg.TradeLockWindow != 12*time.Hour {
		t.Fatalf("lock window = %s", cfg.TradeLockWindow)
	}
	if cfg.AutoMigrate {
		t.Fatalf("auto migrate should default off")
	}
}

func TestLoadAPIPortAndOverrides(t *testing.T) {
	setAPIEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PACKRIP_TRADE_LOCK_WINDOW", "30m")
	t.Setenv("PACKRIP_SEARCH_PER_MINUTE", "nope")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.TradeLockWindow != 30*time.Minute {
		t.Fatalf("lock window = %s", cfg.TradeLockWindow)
	}
	if cfg.SearchPerMinute != 30 {
		t.Fatalf("bad int should fall back, got %d", cfg.SearchPerMinute)
	}
}

func TestLoadAPIRequired(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "SUPABASE_URL", "SUPABASE_ANON_KEY", "PACKRIP_TRADE_REF_SECRET"} {
		t.Run(key, func(t *testing.T) {
			setAPIEnv(t)
			t.Setenv(key, "  ")
			_, err := LoadAPIFromEnv()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s error, got %v", key, err)
			}
		})
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/packrip")
	t.Setenv("PACKRIP_SWEEP_EVERY", "-5s")
	t.Setenv("PACKRIP_WORKER_RUN_ONCE", "true")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SweepEvery != time.Minute || !cfg.RunOnce {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadCLI(t *testing.T) {
	t.Setenv("RIP_API_BASE_URL", "https://api.example.com/")
	t.Setenv("RIP_LOCAL_OVERRIDE", "1")
	cfg := LoadCLIFromEnv()
	if cfg.APIBaseURL != "https://api.example.com" || !cfg.LocalOverride {
		t.Fatalf("cfg = %+v", cfg)
	}
}
