// Package gemini speaks the google generative language dialect.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"

	// Payloads above this are uploaded through the files API instead of
	// being inlined into the request body.
	InlineLimitBytes = 20 << 20
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
		h.Set("x-goog-api-key", p.apiKey)
	}
	for k, v := range p.extra {
		h.Set(k, v)
	}
	return h
}

// modelPath yields "models/<id>" without doubling an API prefix the caller
// already supplied.
func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

type wireRequest struct {
	Contents          []wireContent  `json:"contents"`
	SystemInstruction *wireContent   `json:"system_instruction,omitempty"`
	GenerationConfig  *wireGenConfig `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *wireBlob     `json:"inline_data,omitempty"`
	FileData   *wireFileData `json:"file_data,omitempty"`
}

type wireBlob struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wireFileData struct {
	MIMEType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type wireGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string    `json:"text"`
				InlineData *wireBlob `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     *int64 `json:"promptTokenCount"`
		CandidatesTokenCount *int64 `json:"candidatesTokenCount"`
		ThoughtsTokenCount   *int64 `json:"thoughtsTokenCount"`
		TotalTokenCount      *int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Provider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	wire, err := p.toWire(ctx, req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/%s:generateContent", p.baseURL, modelPath(req.Model))
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	h := p.headers()
	h.Set("Content-Type", "application/json")
	resp, err := httputil.Do(ctx, p.client, http.MethodPost, url, h, body, p.retry)
	if err != nil {
		return nil, fmt.Errorf("%s chat: %w", p.name, err)
	}

	var parsed wireResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("%s chat: response has no candidates", p.name)
	}

	var content string
	for _, part := range parsed.Candidates[0].Content.Parts {
		content += part.Text
	}

	return &domain.ChatResponse{
		Model:   req.Model,
		Content: content,
		Usage: domain.Usage{
			InputTokens:     parsed.UsageMetadata.PromptTokenCount,
			OutputTokens:    parsed.UsageMetadata.CandidatesTokenCount,
			ReasoningTokens: parsed.UsageMetadata.ThoughtsTokenCount,
			TotalTokens:     parsed.UsageMetadata.TotalTokenCount,
		},
		Raw: resp.Body,
	}, nil
}

func (p *Provider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, <-chan error) {
	events := make(chan domain.StreamEvent)
	errs := make(chan error, 1)
	errs <- fmt.Errorf("%s stream: %w", p.name, domain.ErrUnsupported)
	close(events)
	close(errs)
	return events, errs
}

func (p *Provider) Embeddings(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	model := modelPath(req.Model)
	payload := struct {
		Requests []struct {
			Model   string      `json:"model"`
			Content wireContent `json:"content"`
		} `json:"requests"`
	}{}
	for _, text := range req.Input {
		payload.Requests = append(payload.Requests, struct {
			Model   string      `json:"model"`
			Content wireContent `json:"content"`
		}{model, wireContent{Parts: []wirePart{{Text: text}}}})
	}

	var parsed struct {
		Embeddings []struct {
			Values []float64 `json:"values"`
		} `json:"embeddings"`
	}
	url := fmt.Sprintf("%s/v1beta/%s:batchEmbedContents", p.baseURL, model)
	if _, err := httputil.SendJSON(ctx, p.client, http.MethodPost, url, p.headers(), payload, &parsed, p.retry); err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", p.name, err)
	}

	out := &domain.EmbeddingResponse{}
	for _, e := range parsed.Embeddings {
		out.Embeddings = append(out.Embeddings, e.Values)
	}
	return out, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResponse, error) {
	payload := struct {
		Contents         []wireContent `json:"contents"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
		} `json:"generationConfig"`
	}{
		Contents: []wireContent{{Role: "user", Parts: []wirePart{{Text: req.Prompt}}}},
	}
	payload.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	var parsed wireResponse
	url := fmt.Sprintf("%s/v1beta/%s:generateContent", p.baseURL, modelPath(req.Model))
	if _, err := httputil.SendJSON(ctx, p.client, http.MethodPost, url, p.headers(), payload, &parsed, p.retry); err != nil {
		return nil, fmt.Errorf("%s image: %w", p.name, err)
	}

	out := &domain.ImageResponse{}
	for _, c := range parsed.Candidates {
		for _, part := range c.Content.Parts {
			if part.InlineData != nil {
				out.Images = append(out.Images, domain.GeneratedImage{
					B64:  part.InlineData.Data,
					MIME: part.InlineData.MIMEType,
				})
			}
		}
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("%s image: response contains no image data", p.name)
	}
	return out, nil
}

func (p *Provider) toWire(ctx context.Context, req domain.ChatRequest) (*wireRequest, error) {
	var system []string
	var contents []wireContent

	for _, m := range req.Messages {
		var role string
		switch m.Role {
		case "system":
			system = append(system, m.Content.Flatten())
			continue
		case "user":
			role = "user"
		case "assistant":
			role = "model"
		default:
			return nil, fmt.Errorf("role %q not accepted by generateContent: %w", m.Role, domain.ErrInvalidRequest)
		}

		parts, err := p.toParts(ctx, m.Content)
		if err != nil {
			return nil, err
		}
		contents = append(contents, wireContent{Role: role, Parts: parts})
	}

	wire := &wireRequest{Contents: contents}
	if len(system) > 0 {
		wire.SystemInstruction = &wireContent{Parts: []wirePart{{Text: strings.Join(system, "\n")}}}
	}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		wire.GenerationConfig = &wireGenConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}
	return wire, nil
}

func (p *Provider) toParts(ctx context.Context, c domain.Content) ([]wirePart, error) {
	if c.Parts == nil {
		return []wirePart{{Text: c.Text}}, nil
	}

	parts := make([]wirePart, 0, len(c.Parts))
	for _, part := range c.Parts {
		switch part.Type {
		case domain.PartText:
			parts = append(parts, wirePart{Text: part.Text})
		case domain.PartImageURL:
			wp, err := p.mediaPart(ctx, part.ImageURL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, *wp)
		case domain.PartInputAudio:
			if part.InputAudio == nil {
				return nil, fmt.Errorf("audio part without input_audio: %w", domain.ErrInvalidRequest)
			}
			parts = append(parts, wirePart{InlineData: &wireBlob{
				MIMEType: "audio/" + part.InputAudio.Format,
				Data:     part.InputAudio.Data,
			}})
		default:
			return nil, fmt.Errorf("part type %q not accepted by generateContent: %w", part.Type, domain.ErrInvalidRequest)
		}
	}
	return parts, nil
}

// mediaPart inlines small payloads and uploads large ones through the
// files API, keeping request bodies under the inline limit.
func (p *Provider) mediaPart(ctx context.Context, img *domain.ImageURL) (*wirePart, error) {
	if img == nil {
		return nil, fmt.Errorf("image part without image_url: %w", domain.ErrInvalidRequest)
	}

	rest, ok := strings.CutPrefix(img.URL, "data:")
	if !ok {
		// Remote references pass through as file data.
		return &wirePart{FileData: &wireFileData{FileURI: img.URL}}, nil
	}

	mimeType, b64, found := strings.Cut(rest, ";base64,")
	if !found {
		return nil, fmt.Errorf("image data URL must be base64-encoded: %w", domain.ErrInvalidRequest)
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	if len(raw) < InlineLimitBytes {
		return &wirePart{InlineData: &wireBlob{MIMEType: mimeType, Data: b64}}, nil
	}

	uri, err := p.Upload(ctx, mimeType, raw)
	if err != nil {
		return nil, err
	}
	return &wirePart{FileData: &wireFileData{MIMEType: mimeType, FileURI: uri}}, nil
}
