package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-council/internal/budget"
	"github.com/felipepmaragno/llm-council/internal/cache"
	"github.com/felipepmaragno/llm-council/internal/client"
	"github.com/felipepmaragno/llm-council/internal/config"
	"github.com/felipepmaragno/llm-council/internal/council"
	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/media"
	"github.com/felipepmaragno/llm-council/internal/registry"
	"github.com/felipepmaragno/llm-council/internal/secrets"
	"github.com/felipepmaragno/llm-council/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx := context.Background()

	shutdown, err := telemetry.Init(ctx, "llm-council", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg := loadRegistry(ctx, cfg)

	var budgetStore *budget.Store
	if cfg.DailyCapUSD != nil || cfg.MaxCostUSD != nil {
		path, err := budget.DefaultPath()
		if err != nil {
			slog.Error("failed to resolve budget path", "error", err)
			os.Exit(1)
		}
		budgetStore = budget.NewStore(path, budget.Limits{
			DailyCapUSD: cfg.DailyCapUSD,
			MaxCostUSD:  cfg.MaxCostUSD,
		})
	}

	var responseCache cache.Cache
	if cfg.RedisURL != "" {
		responseCache, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			responseCache = cache.NewInMemoryCache()
		}
	} else {
		responseCache = cache.NewInMemoryCache()
	}

	var secretStore secrets.SecretStore
	if cfg.AWSRegion != "" {
		secretStore, err = secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("secrets manager unavailable, relying on env keys", "error", err)
			secretStore = nil
		}
	}

	gw := client.New(client.Options{
		DefaultProvider: cfg.DefaultProvider,
		Providers:       cfg.Providers,
		Registry:        reg,
		Budget:          budgetStore,
		Cache:           responseCache,
		CacheTTL:        cfg.CacheTTL,
		Secrets:         secretStore,
	})

	models := splitModels(os.Getenv("LLMCOUNCIL_MODELS"))
	if len(models) == 0 {
		slog.Error("LLMCOUNCIL_MODELS is empty; set it to a comma-separated list of model specs")
		os.Exit(1)
	}

	prompt, err := io.ReadAll(os.Stdin)
	if err != nil {
		slog.Error("failed to read prompt from stdin", "error", err)
		os.Exit(1)
	}

	orchestrator := council.New(gw, council.Options{
		Parallelism: cfg.CouncilParallelism,
		DryRun:      os.Getenv("LLMCOUNCIL_DRY_RUN") == "true",
	})

	req, err := buildRequest(string(prompt), os.Getenv("LLMCOUNCIL_ATTACHMENT"))
	if err != nil {
		slog.Error("failed to read attachment", "error", err)
		os.Exit(1)
	}

	result, err := orchestrator.Run(ctx, models, req)
	if err != nil {
		slog.Error("council run failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
}

// loadRegistry prefers the cached registry and falls back to a fresh
// fetch, persisting the merge for the next run. A failed refresh degrades
// to nil: resolution then works by candidate keys alone.
func loadRegistry(ctx context.Context, cfg *config.Config) *registry.Registry {
	path, err := registry.DefaultPath()
	if err != nil {
		slog.Warn("failed to resolve registry path", "error", err)
		return nil
	}

	reg, err := registry.Load(path)
	if err != nil {
		slog.Warn("failed to load cached registry", "error", err)
	}
	if reg != nil && os.Getenv("LLMCOUNCIL_REGISTRY_REFRESH") != "true" {
		return reg
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fresh, err := registry.Refresh(fetchCtx, registry.FetchOptions{
		OpenRouterURL: cfg.OpenRouterCatalogURL,
		SidecarURL:    cfg.SidecarURL,
		OverridePath:  cfg.RegistryOverridePath,
	})
	if err != nil {
		slog.Warn("registry refresh failed", "error", err)
		return reg
	}

	if err := fresh.Save(path); err != nil {
		slog.Warn("failed to persist registry", "error", err)
	}
	return fresh
}

// buildRequest assembles the user message sent to every council member.
// When an attachment path is set, the file is sniffed and carried as a
// typed part next to the prompt text.
func buildRequest(prompt, attachment string) (domain.ChatRequest, error) {
	text := strings.TrimSpace(prompt)
	if attachment == "" {
		return domain.ChatRequest{
			Messages: []domain.Message{
				{Role: "user", Content: domain.TextContent(text)},
			},
		}, nil
	}

	in, err := media.FromFile(attachment)
	if err != nil {
		return domain.ChatRequest{}, err
	}
	return domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "user", Content: domain.PartsContent(
				domain.TextPart(text),
				domain.ImagePart(in.DataURL()),
			)},
		},
	}, nil
}

func splitModels(s string) []string {
	var models []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
