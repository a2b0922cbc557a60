package config

import (
	"os"
	"strconv"
	"time"

	"github.com/felipepmaragno/llm-council/internal/provider"
)

type Config struct {
	LogLevel        string
	DefaultProvider string
	Providers       []provider.Config

	RedisURL     string
	CacheTTL     time.Duration
	OTLPEndpoint string
	AWSRegion    string

	// Budget caps; nil means unlimited.
	DailyCapUSD *float64
	MaxCostUSD  *float64

	CouncilParallelism int

	OpenRouterCatalogURL string
	SidecarURL           string
	RegistryOverridePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DefaultProvider:      getEnv("DEFAULT_PROVIDER", "openai"),
		RedisURL:             getEnv("REDIS_URL", ""),
		CacheTTL:             getDurationEnv("CACHE_TTL", 5*time.Minute),
		OTLPEndpoint:         getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:            getEnv("AWS_REGION", ""),
		DailyCapUSD:          getFloatEnv("BUDGET_DAILY_CAP_USD"),
		MaxCostUSD:           getFloatEnv("BUDGET_MAX_COST_USD"),
		CouncilParallelism:   getIntEnv("COUNCIL_PARALLELISM", 4),
		OpenRouterCatalogURL: getEnv("OPENROUTER_CATALOG_URL", "https://openrouter.ai"),
		SidecarURL:           getEnv("SIDECAR_BASE_URL", ""),
		RegistryOverridePath: getEnv("REGISTRY_OVERRIDE_PATH", ""),
	}

	cfg.Providers = []provider.Config{
		{
			Name:         "openai",
			Kind:         provider.KindOpenAI,
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			APIKeyEnv:    "OPENAI_API_KEY",
			APIKeySecret: getEnv("OPENAI_API_KEY_SECRET", ""),
		},
		{
			Name:         "anthropic",
			Kind:         provider.KindAnthropic,
			BaseURL:      getEnv("ANTHROPIC_BASE_URL", ""),
			APIKeyEnv:    "ANTHROPIC_API_KEY",
			APIKeySecret: getEnv("ANTHROPIC_API_KEY_SECRET", ""),
		},
		{
			Name:         "gemini",
			Kind:         provider.KindGemini,
			BaseURL:      getEnv("GEMINI_BASE_URL", ""),
			APIKeyEnv:    "GEMINI_API_KEY",
			APIKeySecret: getEnv("GEMINI_API_KEY_SECRET", ""),
		},
		{
			Name:         "openrouter",
			Kind:         provider.KindOpenAI,
			BaseURL:      getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKeyEnv:    "OPENROUTER_API_KEY",
			APIKeySecret: getEnv("OPENROUTER_API_KEY_SECRET", ""),
		},
	}

	if localURL := getEnv("LOCAL_BASE_URL", ""); localURL != "" {
		cfg.Providers = append(cfg.Providers, provider.Config{
			Name:    "local",
			Kind:    provider.KindOpenAI,
			BaseURL: localURL,
			NoAuth:  true,
		})
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string) *float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return &f
		}
	}
	return nil
}
