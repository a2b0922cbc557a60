// Package provider selects and configures the outbound HTTP dialect for a
// vendor. The dialect set is closed: openai-compatible, anthropic, and
// google generative cover every supported upstream, including aggregators
// and local servers that speak the openai surface.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/provider/anthropic"
	"github.com/felipepmaragno/llm-council/internal/provider/gemini"
	"github.com/felipepmaragno/llm-council/internal/provider/openai"
	"github.com/felipepmaragno/llm-council/internal/secrets"
)

type Kind string

const (
	KindOpenAI    Kind = "openai-compatible"
	KindAnthropic Kind = "anthropic"
	KindGemini    Kind = "google"
)

// Config describes one upstream endpoint.
type Config struct {
	Name         string
	Kind         Kind
	BaseURL      string
	APIKey       string
	APIKeyEnv    string
	APIKeySecret string
	NoAuth       bool
	ExtraHeaders map[string]string
}

// ResolveKey finds the credential in precedence order: literal key, env
// var, then the secret store. NoAuth endpoints resolve to an empty key.
func (c Config) ResolveKey(ctx context.Context, store secrets.SecretStore) (string, error) {
	if c.NoAuth {
		return "", nil
	}
	if c.APIKey != "" {
		return c.APIKey, nil
	}
	if c.APIKeyEnv != "" {
		if v := os.Getenv(c.APIKeyEnv); v != "" {
			return v, nil
		}
	}
	if c.APIKeySecret != "" && store != nil {
		v, err := store.GetSecret(ctx, c.APIKeySecret)
		if err != nil {
			return "", fmt.Errorf("resolve key for %s: %w", c.Name, err)
		}
		if v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("provider %s: %w", c.Name, domain.ErrMissingAPIKey)
}

// Dispatcher is one configured upstream speaking one of the three dialects.
type Dispatcher interface {
	Name() string
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
	ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, <-chan error)
	Embeddings(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error)
	GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResponse, error)
	GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResponse, error)
}

// New builds the dispatcher for a config, resolving its credential up
// front so a missing key fails before any request is attempted.
func New(ctx context.Context, cfg Config, client *http.Client, store secrets.SecretStore) (Dispatcher, error) {
	key, err := cfg.ResolveKey(ctx, store)
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindOpenAI:
		return openai.New(cfg.Name, cfg.BaseURL, key, cfg.ExtraHeaders, client), nil
	case KindAnthropic:
		return anthropic.New(cfg.Name, cfg.BaseURL, key, cfg.ExtraHeaders, client), nil
	case KindGemini:
		return gemini.New(cfg.Name, cfg.BaseURL, key, cfg.ExtraHeaders, client), nil
	default:
		return nil, fmt.Errorf("kind %q: %w", cfg.Kind, domain.ErrProviderNotFound)
	}
}
