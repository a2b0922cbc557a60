package config

import (
	"testing"
	"time"

	"github.com/felipepmaragno/llm-council/internal/provider"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %q", cfg.LogLevel)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("expected openai default provider, got %q", cfg.DefaultProvider)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache TTL, got %v", cfg.CacheTTL)
	}
	if cfg.CouncilParallelism != 4 {
		t.Errorf("expected parallelism 4, got %d", cfg.CouncilParallelism)
	}
	if cfg.DailyCapUSD != nil {
		t.Errorf("expected unlimited daily cap, got %v", *cfg.DailyCapUSD)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEFAULT_PROVIDER", "openrouter")
	t.Setenv("CACHE_TTL", "60")
	t.Setenv("COUNCIL_PARALLELISM", "2")
	t.Setenv("BUDGET_DAILY_CAP_USD", "12.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %q", cfg.LogLevel)
	}
	if cfg.DefaultProvider != "openrouter" {
		t.Errorf("expected openrouter, got %q", cfg.DefaultProvider)
	}
	if cfg.CacheTTL != time.Minute {
		t.Errorf("expected 60s TTL, got %v", cfg.CacheTTL)
	}
	if cfg.CouncilParallelism != 2 {
		t.Errorf("expected parallelism 2, got %d", cfg.CouncilParallelism)
	}
	if cfg.DailyCapUSD == nil || *cfg.DailyCapUSD != 12.5 {
		t.Errorf("expected daily cap 12.5, got %v", cfg.DailyCapUSD)
	}
}

func TestLoad_ProviderSet(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byName := make(map[string]provider.Config, len(cfg.Providers))
	for _, p := range cfg.Providers {
		byName[p.Name] = p
	}

	for _, name := range []string{"openai", "anthropic", "gemini", "openrouter"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("expected provider %s configured", name)
		}
	}
	if byName["anthropic"].Kind != provider.KindAnthropic {
		t.Errorf("expected anthropic dialect, got %q", byName["anthropic"].Kind)
	}
	if byName["openrouter"].Kind != provider.KindOpenAI {
		t.Errorf("expected openai-compatible dialect for openrouter, got %q", byName["openrouter"].Kind)
	}
	if _, ok := byName["local"]; ok {
		t.Error("expected no local provider without LOCAL_BASE_URL")
	}
}

func TestLoad_LocalProvider(t *testing.T) {
	t.Setenv("LOCAL_BASE_URL", "http://127.0.0.1:11434/v1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var local *provider.Config
	for i, p := range cfg.Providers {
		if p.Name == "local" {
			local = &cfg.Providers[i]
		}
	}
	if local == nil {
		t.Fatal("expected local provider")
	}
	if !local.NoAuth {
		t.Error("expected local provider to skip auth")
	}
	if local.BaseURL != "http://127.0.0.1:11434/v1" {
		t.Errorf("unexpected base URL %q", local.BaseURL)
	}
}
