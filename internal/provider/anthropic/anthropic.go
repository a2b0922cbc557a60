// Package anthropic speaks the anthropic messages dialect.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
	"github.com/felipepmaragno/llm-council/internal/sse"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// The messages endpoint requires max_tokens; this is the fallback
	// when the caller does not set one.
	defaultMaxTokens = 1024
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
		h.Set("x-api-key", p.apiKey)
	}
	h.Set("anthropic-version", apiVersion)
	for k, v := range p.extra {
		h.Set(k, v)
	}
	return h
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	StopSeqs    []string      `json:"stop_sequences,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Source *wireSource `json:"source,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  *int64 `json:"input_tokens"`
		OutputTokens *int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	wire, err := toWire(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	h := p.headers()
	h.Set("Content-Type", "application/json")
	resp, err := httputil.Do(ctx, p.client, http.MethodPost, p.baseURL+"/v1/messages", h, body, p.retry)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.name, err)
	}

	var parsed wireResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	usage := domain.Usage{
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	if parsed.Usage.InputTokens != nil && parsed.Usage.OutputTokens != nil {
		usage.TotalTokens = domain.Int64(*parsed.Usage.InputTokens + *parsed.Usage.OutputTokens)
	}

	return &domain.ChatResponse{
		ID:      parsed.ID,
		Model:   parsed.Model,
		Content: content,
		Usage:   usage,
		Raw:     resp.Body,
	}, nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, <-chan error) {
	fail := func(err error) (<-chan domain.StreamEvent, <-chan error) {
		events := make(chan domain.StreamEvent)
		errs := make(chan error, 1)
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}

	wire, err := toWire(req)
	if err != nil {
		return fail(err)
	}
	wire.Stream = true

	body, err := json.Marshal(wire)
	if err != nil {
		return fail(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header = p.headers()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fail(fmt.Errorf("%s stream: %w", p.name, err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var buf [2048]byte
		n, _ := resp.Body.Read(buf[:])
		return fail(fmt.Errorf("%s stream: http %d: %s", p.name, resp.StatusCode, string(buf[:n])))
	}

	return sse.Pump(ctx, resp.Body, sse.NewEventBlockDecoder())
}

func (p *Provider) Embeddings(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	return nil, fmt.Errorf("%s embeddings: %w", p.name, domain.ErrUnsupported)
}

func (p *Provider) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResponse, error) {
	return nil, fmt.Errorf("%s image: %w", p.name, domain.ErrUnsupported)
}

func (p *Provider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResponse, error) {
	return nil, fmt.Errorf("%s video: %w", p.name, domain.ErrUnsupported)
}

func toWire(req domain.ChatRequest) (*wireRequest, error) {
	var system []string
	messages := make([]wireMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content.Flatten())
			continue
		case "user", "assistant":
		default:
			return nil, fmt.Errorf("role %q not accepted by the messages endpoint: %w", m.Role, domain.ErrInvalidRequest)
		}

		blocks, err := toBlocks(m.Content)
		if err != nil {
			return nil, err
		}
		messages = append(messages, wireMessage{Role: m.Role, Content: blocks})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return &wireRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		System:      strings.Join(system, "\n"),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
	}, nil
}

func toBlocks(c domain.Content) ([]wireBlock, error) {
	if c.Parts == nil {
		return []wireBlock{{Type: "text", Text: c.Text}}, nil
	}

	blocks := make([]wireBlock, 0, len(c.Parts))
	for _, part := range c.Parts {
		switch part.Type {
		case domain.PartText:
			blocks = append(blocks, wireBlock{Type: "text", Text: part.Text})
		case domain.PartImageURL:
			src, err := toImageSource(part.ImageURL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, wireBlock{Type: "image", Source: src})
		default:
			return nil, fmt.Errorf("part type %q not accepted by the messages endpoint: %w", part.Type, domain.ErrInvalidRequest)
		}
	}
	return blocks, nil
}

// toImageSource converts an image reference: data URLs become inline
// base64 sources, everything else is passed as a remote URL.
func toImageSource(img *domain.ImageURL) (*wireSource, error) {
	if img == nil {
		return nil, fmt.Errorf("image part without image_url: %w", domain.ErrInvalidRequest)
	}
	if rest, ok := strings.CutPrefix(img.URL, "data:"); ok {
		mediaType, data, found := strings.Cut(rest, ";base64,")
		if !found {
			return nil, fmt.Errorf("image data URL must be base64-encoded: %w", domain.ErrInvalidRequest)
		}
		return &wireSource{Type: "base64", MediaType: mediaType, Data: data}, nil
	}
	return &wireSource{Type: "url", URL: img.URL}, nil
}
