package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/felipepmaragno/llm-council/internal/httputil"
)

const (
	DefaultOpenRouterURL = "https://openrouter.ai"
)

// FetchOptions names the catalog sources to merge, in ascending priority:
// static table, openrouter, sidecar, local override file.
type FetchOptions struct {
	Client        *http.Client
	OpenRouterURL string
	SidecarURL    string
	OverridePath  string
}

// Refresh fetches every configured source, merges them, and returns the
// result. A source that fails is logged and skipped rather than failing
// the whole refresh.
func Refresh(ctx context.Context, opts FetchOptions) (*Registry, error) {
	client := opts.Client
	if client == nil {
		client = httputil.DefaultClient()
	}

	sources := [][]ModelEntry{StaticEntries()}

	if opts.OpenRouterURL != "" {
		entries, err := FetchOpenRouter(ctx, client, opts.OpenRouterURL)
		if err != nil {
			slog.Warn("openrouter catalog fetch failed", "error", err)
		} else {
			sources = append(sources, entries)
		}
	}

	if opts.SidecarURL != "" {
		entries, err := FetchSidecar(ctx, client, opts.SidecarURL)
		if err != nil {
			slog.Warn("sidecar catalog fetch failed", "error", err)
		} else {
			sources = append(sources, entries)
		}
	}

	if opts.OverridePath != "" {
		entries, err := LoadOverride(opts.OverridePath)
		if err != nil {
			return nil, fmt.Errorf("load registry override: %w", err)
		}
		sources = append(sources, entries)
	}

	return Merge(sources...), nil
}

type openRouterCatalog struct {
	Data []openRouterModel `json:"data"`
}

type openRouterModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength *int64 `json:"context_length"`
	Architecture  struct {
		InputModalities []string `json:"input_modalities"`
	} `json:"architecture"`
	SupportedParameters []string `json:"supported_parameters"`
	Pricing             struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
		Request    string `json:"request"`
		WebSearch  string `json:"web_search"`
	} `json:"pricing"`
}

// FetchOpenRouter pulls the public model catalog. OpenRouter quotes prices
// per token as decimal strings; they are rescaled to per-1K here.
func FetchOpenRouter(ctx context.Context, client *http.Client, baseURL string) ([]ModelEntry, error) {
	var catalog openRouterCatalog
	url := strings.TrimSuffix(baseURL, "/") + "/api/v1/models"
	if _, err := httputil.SendJSON(ctx, client, http.MethodGet, url, nil, nil, &catalog, httputil.DefaultRetryConfig()); err != nil {
		return nil, fmt.Errorf("fetch openrouter models: %w", err)
	}

	entries := make([]ModelEntry, 0, len(catalog.Data))
	for _, m := range catalog.Data {
		entry := ModelEntry{
			ID:            m.ID,
			Provider:      "openrouter",
			DisplayName:   m.Name,
			ContextWindow: m.ContextLength,
			Pricing: &ModelPricing{
				PromptPer1K:     perTokenToPer1K(m.Pricing.Prompt),
				CompletionPer1K: perTokenToPer1K(m.Pricing.Completion),
				Request:         parsePrice(m.Pricing.Request),
			},
			Capability: &ModelCapability{
				Vision:    boolPtr(containsString(m.Architecture.InputModalities, "image")),
				Reasoning: boolPtr(containsString(m.SupportedParameters, "reasoning")),
				WebSearch: boolPtr(nonZeroPrice(m.Pricing.WebSearch)),
			},
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type sidecarCatalog struct {
	Data []struct {
		ModelName string `json:"model_name"`
		ModelInfo struct {
			InputCostPerToken  *float64 `json:"input_cost_per_token"`
			OutputCostPerToken *float64 `json:"output_cost_per_token"`
			MaxInputTokens     *int64   `json:"max_input_tokens"`
			SupportsVision     *bool    `json:"supports_vision"`
			SupportsReasoning  *bool    `json:"supports_reasoning"`
			SupportsWebSearch  *bool    `json:"supports_web_search"`
		} `json:"model_info"`
	} `json:"data"`
}

// FetchSidecar pulls model info from a litellm-style proxy.
func FetchSidecar(ctx context.Context, client *http.Client, baseURL string) ([]ModelEntry, error) {
	var catalog sidecarCatalog
	url := strings.TrimSuffix(baseURL, "/") + "/model/info"
	if _, err := httputil.SendJSON(ctx, client, http.MethodGet, url, nil, nil, &catalog, httputil.DefaultRetryConfig()); err != nil {
		return nil, fmt.Errorf("fetch sidecar model info: %w", err)
	}

	entries := make([]ModelEntry, 0, len(catalog.Data))
	for _, m := range catalog.Data {
		entry := ModelEntry{
			ID:            m.ModelName,
			ContextWindow: m.ModelInfo.MaxInputTokens,
			Pricing: &ModelPricing{
				PromptPer1K:     scalePerToken(m.ModelInfo.InputCostPerToken),
				CompletionPer1K: scalePerToken(m.ModelInfo.OutputCostPerToken),
			},
			Capability: &ModelCapability{
				Vision:    m.ModelInfo.SupportsVision,
				Reasoning: m.ModelInfo.SupportsReasoning,
				WebSearch: m.ModelInfo.SupportsWebSearch,
			},
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// LoadOverride reads org-local entries that take precedence over every
// remote source. The file holds either a bare array or {"models": [...]}.
func LoadOverride(path string) ([]ModelEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []ModelEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entries, nil
	}

	var wrapped struct {
		Models []ModelEntry `json:"models"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse override %s: %w", path, err)
	}
	return wrapped.Models, nil
}

func parsePrice(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func perTokenToPer1K(s string) *float64 {
	f := parsePrice(s)
	if f == nil {
		return nil
	}
	scaled := *f * 1000
	return &scaled
}

func scalePerToken(f *float64) *float64 {
	if f == nil {
		return nil
	}
	scaled := *f * 1000
	return &scaled
}

func nonZeroPrice(s string) bool {
	f := parsePrice(s)
	return f != nil && *f != 0
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool {
	return &b
}
