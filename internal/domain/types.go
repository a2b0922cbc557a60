package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChatRequest is the canonical request shape. Providers translate it into
// their own wire dialect before sending.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or a list of typed parts. The two shapes
// round-trip through JSON exactly as received.
type Content struct {
	Text  string
	Parts []Part
}

func TextContent(s string) Content {
	return Content{Text: s}
}

func PartsContent(parts ...Part) Content {
	return Content{Parts: parts}
}

// Flatten concatenates the textual pieces of the content.
func (c Content) Flatten() string {
	if c.Parts == nil {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts: %w", err)
	}
	c.Text = ""
	c.Parts = parts
	return nil
}

const (
	PartText       = "text"
	PartImageURL   = "image_url"
	PartInputAudio = "input_audio"
	PartFile       = "file"
)

// Part is one element of a multimodal message. Unknown part types are kept
// verbatim so openai-compatible providers can pass them through unchanged.
type Part struct {
	Type       string
	Text       string
	ImageURL   *ImageURL
	InputAudio *InputAudio
	File       *FilePart

	raw json.RawMessage
}

// Known reports whether the part type is one this gateway understands.
// Providers that cannot pass unknown parts through reject them.
func (p Part) Known() bool {
	switch p.Type {
	case PartText, PartImageURL, PartInputAudio, PartFile:
		return true
	}
	return false
}

func (p Part) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	type wire struct {
		Type       string      `json:"type"`
		Text       string      `json:"text,omitempty"`
		ImageURL   *ImageURL   `json:"image_url,omitempty"`
		InputAudio *InputAudio `json:"input_audio,omitempty"`
		File       *FilePart   `json:"file,omitempty"`
	}
	return json.Marshal(wire{p.Type, p.Text, p.ImageURL, p.InputAudio, p.File})
}

func (p *Part) UnmarshalJSON(data []byte) error {
	type wire struct {
		Type       string      `json:"type"`
		Text       string      `json:"text"`
		ImageURL   *ImageURL   `json:"image_url"`
		InputAudio *InputAudio `json:"input_audio"`
		File       *FilePart   `json:"file"`
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Type = w.Type
	p.Text = w.Text
	p.ImageURL = w.ImageURL
	p.InputAudio = w.InputAudio
	p.File = w.File
	p.raw = nil
	if !p.Known() {
		p.raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

func TextPart(s string) Part {
	return Part{Type: PartText, Text: s}
}

func ImagePart(url string) Part {
	return Part{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type InputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type FilePart struct {
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

// ChatResponse is the normalized completion result. Raw keeps the vendor
// body for callers that need fields the normalization drops.
type ChatResponse struct {
	ID      string          `json:"id,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content string          `json:"content"`
	Usage   Usage           `json:"usage"`
	CostUSD *float64        `json:"cost_usd,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Usage counts are pointers so "not reported" stays distinct from zero.
type Usage struct {
	InputTokens     *int64 `json:"input_tokens,omitempty"`
	OutputTokens    *int64 `json:"output_tokens,omitempty"`
	ReasoningTokens *int64 `json:"reasoning_tokens,omitempty"`
	TotalTokens     *int64 `json:"total_tokens,omitempty"`
}

// Merge sums two usage reports, treating missing fields as zero. All fields
// of the result are set.
func (u Usage) Merge(o Usage) Usage {
	sum := func(a, b *int64) *int64 {
		var n int64
		if a != nil {
			n += *a
		}
		if b != nil {
			n += *b
		}
		return &n
	}
	return Usage{
		InputTokens:     sum(u.InputTokens, o.InputTokens),
		OutputTokens:    sum(u.OutputTokens, o.OutputTokens),
		ReasoningTokens: sum(u.ReasoningTokens, o.ReasoningTokens),
		TotalTokens:     sum(u.TotalTokens, o.TotalTokens),
	}
}

// Tokens returns input/output counts with missing fields as zero.
func (u Usage) Tokens() (in, out int64) {
	if u.InputTokens != nil {
		in = *u.InputTokens
	}
	if u.OutputTokens != nil {
		out = *u.OutputTokens
	}
	return in, out
}

func Int64(n int64) *int64 { return &n }

func Float64(f float64) *float64 { return &f }

// StreamEvent is one decoded increment of a streaming response.
type StreamEvent struct {
	Content string          `json:"content"`
	Raw     json.RawMessage `json:"-"`
}

type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type EmbeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Usage      Usage       `json:"usage"`
}

type ImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n,omitempty"`
}

type GeneratedImage struct {
	B64  string `json:"b64,omitempty"`
	URL  string `json:"url,omitempty"`
	MIME string `json:"mime,omitempty"`
}

type ImageResponse struct {
	Images []GeneratedImage `json:"images"`
}

type VideoRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Seconds string `json:"seconds,omitempty"`

	// Polling knobs; zero values take the dialect defaults.
	PollInterval    time.Duration `json:"-"`
	MaxPollAttempts int           `json:"-"`
}

// VideoResponse carries either a remote URI (google) or an inline data URL
// (openai-compatible), whichever the upstream produced.
type VideoResponse struct {
	URI     string `json:"uri,omitempty"`
	DataURL string `json:"data_url,omitempty"`
}
