// Package openai speaks the openai-compatible dialect. Aggregators, local
// servers, and sidecar proxies all share this surface, so the base URL and
// auth are fully configurable.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
	"github.com/felipepmaragno/llm-council/internal/sse"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// Response cost reported by litellm-style proxies.
	costHeader = "x-litellm-response-cost"

	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 120
)

type Provider struct {
	name    string
	baseURL string
	apiKey  string
	extra   map[string]string
	client  *http.Client
	retry   httputil.RetryConfig
}

func New(name, baseURL, apiKey string, extra map[string]string, client *http.Client) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = httputil.DefaultClient()
	}
	return &Provider{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		extra:   extra,
		client:  client,
		retry:   httputil.DefaultRetryConfig(),
	}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) headers() http.Header {
	h := http.Header{}
	if p.apiKey != "" {
		h.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.extra {
		h.Set(k, v)
	}
	return h
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens            *int64 `json:"prompt_tokens"`
		CompletionTokens        *int64 `json:"completion_tokens"`
		TotalTokens             *int64 `json:"total_tokens"`
		CompletionTokensDetails *struct {
			ReasoningTokens *int64 `json:"reasoning_tokens"`
		} `json:"completion_tokens_details"`
	} `json:"usage"`
}

func (p *Provider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	h := p.headers()
	h.Set("Content-Type", "application/json")
	resp, err := httputil.Do(ctx, p.client, http.MethodPost, p.baseURL+"/chat/completions", h, body, p.retry)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.name, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s chat: response has no choices", p.name)
	}

	out := &domain.ChatResponse{
		ID:      parsed.ID,
		Model:   parsed.Model,
		Content: parsed.Choices[0].Message.Content,
		Usage: domain.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		},
		Raw: resp.Body,
	}
	if d := parsed.Usage.CompletionTokensDetails; d != nil {
		out.Usage.ReasoningTokens = d.ReasoningTokens
	}
	if v := resp.Header.Get(costHeader); v != "" {
		if cost, err := strconv.ParseFloat(v, 64); err == nil {
			out.CostUSD = &cost
		}
	}
	return out, nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, <-chan error) {
	req.Stream = true
	resp, err := p.openStream(ctx, req)
	if err != nil {
		events := make(chan domain.StreamEvent)
		errs := make(chan error, 1)
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}
	return sse.Pump(ctx, resp.Body, sse.NewDataLineDecoder())
}

func (p *Provider) openStream(ctx context.Context, req domain.ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header = p.headers()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var buf [2048]byte
		n, _ := resp.Body.Read(buf[:])
		return nil, fmt.Errorf("%s stream: http %d: %s", p.name, resp.StatusCode, string(buf[:n]))
	}
	return resp, nil
}

func (p *Provider) Embeddings(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{req.Model, req.Input}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens *int64 `json:"prompt_tokens"`
			TotalTokens  *int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if _, err := httputil.SendJSON(ctx, p.client, http.MethodPost, p.baseURL+"/embeddings", p.headers(), payload, &parsed, p.retry); err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", p.name, err)
	}

	out := &domain.EmbeddingResponse{
		Usage: domain.Usage{
			InputTokens: parsed.Usage.PromptTokens,
			TotalTokens: parsed.Usage.TotalTokens,
		},
	}
	for _, d := range parsed.Data {
		out.Embeddings = append(out.Embeddings, d.Embedding)
	}
	return out, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResponse, error) {
	payload := struct {
		Model          string `json:"model"`
		Prompt         string `json:"prompt"`
		Size           string `json:"size,omitempty"`
		N              int    `json:"n,omitempty"`
		ResponseFormat string `json:"response_format,omitempty"`
	}{req.Model, req.Prompt, req.Size, req.N, "b64_json"}

	var parsed struct {
		Data []struct {
			B64 string `json:"b64_json"`
			URL string `json:"url"`
		} `json:"data"`
	}
	if _, err := httputil.SendJSON(ctx, p.client, http.MethodPost, p.baseURL+"/images/generations", p.headers(), payload, &parsed, p.retry); err != nil {
		return nil, fmt.Errorf("%s image: %w", p.name, err)
	}

	out := &domain.ImageResponse{}
	for _, d := range parsed.Data {
		out.Images = append(out.Images, domain.GeneratedImage{B64: d.B64, URL: d.URL, MIME: "image/png"})
	}
	return out, nil
}

// GenerationCost fetches the exact cost of a finished call from an
// aggregator's accounting endpoint.
func (p *Provider) GenerationCost(ctx context.Context, id string) (float64, error) {
	var parsed struct {
		Data struct {
			TotalCost *float64 `json:"total_cost"`
		} `json:"data"`
	}
	if _, err := httputil.SendJSON(ctx, p.client, http.MethodGet, p.baseURL+"/generation?id="+id, p.headers(), nil, &parsed, p.retry); err != nil {
		return 0, fmt.Errorf("%s generation cost: %w", p.name, err)
	}
	if parsed.Data.TotalCost == nil {
		return 0, fmt.Errorf("%s generation cost: not reported", p.name)
	}
	return *parsed.Data.TotalCost, nil
}
