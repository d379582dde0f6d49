package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr               string
	DatabaseURL        string
	SupabaseURL        string
	SupabaseAnonKey    string
	TradeRefSecret     string
	TradeLockWindow    time.Duration
	CatalogPath        string
	LocalOverrideToken string
	AutoMigrate        bool
	SearchPerMinute    int
}

type WorkerConfig struct {
	DatabaseURL       string
	SweepEvery        time.Duration
	RunOnce           bool
	RedisURL          string
	DiscordWebhookURL string
	MetricsAddr       string
}

type CLIConfig struct {
	APIBaseURL    string
	LocalOverride bool
	OverrideToken string
	CacheDir      string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("PACKRIP_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:               addr,
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:    strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		TradeRefSecret:     strings.TrimSpace(os.Getenv("PACKRIP_TRADE_REF_SECRET")),
		TradeLockWindow:    envDurationDefault("PACKRIP_TRADE_LOCK_WINDOW", 12*time.Hour),
		CatalogPath:        strings.TrimSpace(os.Getenv("PACKRIP_CATALOG_PATH")),
		LocalOverrideToken: strings.TrimSpace(os.Getenv("PACKRIP_LOCAL_OVERRIDE_TOKEN")),
		AutoMigrate:        envBoolDefault("PACKRIP_AUTO_MIGRATE", false),
		SearchPerMinute:    envIntDefault("PACKRIP_SEARCH_PER_MINUTE", 30),
	}
	if err := required(map[string]string{
		"DATABASE_URL":             cfg.DatabaseURL,
		"SUPABASE_URL":             cfg.SupabaseURL,
		"SUPABASE_ANON_KEY":        cfg.SupabaseAnonKey,
		"PACKRIP_TRADE_REF_SECRET": cfg.TradeRefSecret,
	}); err != nil {
		return cfg, err
	}
	if cfg.TradeLockWindow <= 0 {
		return cfg, fmt.Errorf("PACKRIP_TRADE_LOCK_WINDOW must be positive")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SweepEvery:        envDurationDefault("PACKRIP_SWEEP_EVERY", time.Minute),
		RunOnce:           envBoolDefault("PACKRIP_WORKER_RUN_ONCE", false),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		DiscordWebhookURL: strings.TrimSpace(os.Getenv("DISCORD_WEBHOOK_URL")),
		MetricsAddr:       strings.TrimSpace(os.Getenv("PACKRIP_WORKER_METRICS_ADDR")),
	}
	if err := required(map[string]string{"DATABASE_URL": cfg.DatabaseURL}); err != nil {
		return cfg, err
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL:    strings.TrimRight(envDefault("RIP_API_BASE_URL", "http://localhost:8080"), "/"),
		LocalOverride: envBoolDefault("RIP_LOCAL_OVERRIDE", false),
		OverrideToken: strings.TrimSpace(os.Getenv("RIP_LOCAL_OVERRIDE_TOKEN")),
		CacheDir:      strings.TrimSpace(os.Getenv("RIP_HOME")),
	}
}

// required reports the first missing variable in name order so the message is stable.
func required(vars map[string]string) error {
	names := make([]string, 0, len(vars))
	for name, v := range vars {
		if v == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return fmt.Errorf("%s is required", names[0])
}

func envDefault(key, fallback string) string {
	return envParse(key, fallback, func(v string) (string, error) { return v, nil })
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	return envParse(key, fallback, time.ParseDuration)
}

func envIntDefault(key string, fallback int) int {
	return envParse(key, fallback, strconv.Atoi)
}

func envBoolDefault(key string, fallback bool) bool {
	return envParse(key, fallback, strconv.ParseBool)
}

// envParse returns fallback when the variable is unset or does not parse.
func envParse[T any](key string, fallback T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	out, err := parse(v)
	if err != nil {
		return fallback
	}
	return out
}
