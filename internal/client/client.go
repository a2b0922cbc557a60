// Package client is the embeddable gateway facade: it resolves model
// references, gates on capability and budget, and dispatches through the
// provider dialects with caching, breakers, metrics, and tracing applied.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/felipepmaragno/llm-council/internal/budget"
	"github.com/felipepmaragno/llm-council/internal/cache"
	"github.com/felipepmaragno/llm-council/internal/circuitbreaker"
	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
	"github.com/felipepmaragno/llm-council/internal/provider"
	"github.com/felipepmaragno/llm-council/internal/registry"
	"github.com/felipepmaragno/llm-council/internal/router"
	"github.com/felipepmaragno/llm-council/internal/secrets"
)

// Fallback output budget when the caller does not set max_tokens; used
// only for cost estimation.
const defaultEstimateOutputTokens = 1024

type Options struct {
	DefaultProvider string
	Providers       []provider.Config
	HTTPClient      *http.Client
	Registry        *registry.Registry
	Budget          *budget.Store
	Cache           cache.Cache
	CacheTTL        time.Duration
	Secrets         secrets.SecretStore
}

type Client struct {
	defaultProvider string
	providers       map[string]provider.Config
	httpClient      *http.Client
	registry        *registry.Registry
	budget          *budget.Store
	cache           cache.Cache
	cacheTTL        time.Duration
	secrets         secrets.SecretStore
	breakers        *circuitbreaker.Manager

	mu          sync.Mutex
	dispatchers map[string]provider.Dispatcher
}

func New(opts Options) *Client {
	providers := make(map[string]provider.Config, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name] = p
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = httputil.DefaultClient()
	}

	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Client{
		defaultProvider: opts.DefaultProvider,
		providers:       providers,
		httpClient:      httpClient,
		registry:        opts.Registry,
		budget:          opts.Budget,
		cache:           opts.Cache,
		cacheTTL:        cacheTTL,
		secrets:         opts.Secrets,
		breakers:        circuitbreaker.NewManager(circuitbreaker.DefaultConfig()),
		dispatchers:     make(map[string]provider.Dispatcher),
	}
}

// Resolve canonicalizes a model reference and finds its registry entry.
// The entry may be nil when no registry data covers the model.
func (c *Client) Resolve(providerHint, model string) (router.Spec, *registry.ModelEntry, error) {
	spec, err := router.BuildSpec(providerHint, model, c.defaultProvider)
	if err != nil {
		return router.Spec{}, nil, err
	}
	entry, _ := c.registry.Resolve(router.RegistryKeys(spec))
	return spec, entry, nil
}

// EstimateCost projects the cost of a call; nil when the registry lacks
// pricing for the model.
func (c *Client) EstimateCost(providerHint, model string, inputTokens, outputTokens int64) (*registry.PricingEstimate, error) {
	_, entry, err := c.Resolve(providerHint, model)
	if err != nil {
		return nil, err
	}
	return registry.Estimate(entry, inputTokens, outputTokens), nil
}

func (c *Client) dispatcher(ctx context.Context, name string) (provider.Dispatcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.dispatchers[name]; ok {
		return d, nil
	}

	cfg, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrProviderNotFound)
	}

	d, err := provider.New(ctx, cfg, c.httpClient, c.secrets)
	if err != nil {
		return nil, err
	}
	c.dispatchers[name] = d
	return d, nil
}

// estimateTokens guesses the token footprint of a request for budgeting:
// roughly four characters per input token, with max_tokens (or a default)
// as the output bound.
func estimateTokens(req domain.ChatRequest) (in, out int64) {
	var chars int
	for _, m := range req.Messages {
		chars += len(m.Content.Flatten())
	}
	in = int64(chars / 4)
	if req.MaxTokens != nil {
		out = int64(*req.MaxTokens)
	} else {
		out = defaultEstimateOutputTokens
	}
	return in, out
}

func wantsVision(req domain.ChatRequest) bool {
	for _, m := range req.Messages {
		for _, p := range m.Content.Parts {
			if p.Type == domain.PartImageURL {
				return true
			}
		}
	}
	return false
}
