package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
)

func newTestProvider(srv *httptest.Server) *Provider {
	p := New("gemini", srv.URL, "goog-test-key", nil, srv.Client())
	p.retry = httputil.RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
	}
	return p
}

func TestChat_PathAuthAndSystemInstruction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "goog-test-key" {
			t.Errorf("expected api key header, got %q", got)
		}

		var body wireRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be brief" {
			t.Errorf("expected system_instruction, got %+v", body.SystemInstruction)
		}
		if len(body.Contents) != 2 {
			t.Fatalf("expected 2 contents, got %d", len(body.Contents))
		}
		if body.Contents[0].Role != "user" || body.Contents[1].Role != "model" {
			t.Errorf("unexpected roles %q %q", body.Contents[0].Role, body.Contents[1].Role)
		}

		w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text":"short "},{"text":"answer"}]}}],
			"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 2,
				"thoughtsTokenCount": 5, "totalTokenCount": 15}
		}`))
	}))
	defer srv.Close()

	resp, err := newTestProvider(srv).Chat(context.Background(), domain.ChatRequest{
		Model: "gemini-2.5-flash",
		Messages: []domain.Message{
			{Role: "system", Content: domain.TextContent("be brief")},
			{Role: "user", Content: domain.TextContent("hi")},
			{Role: "assistant", Content: domain.TextContent("hello")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "short answer" {
		t.Errorf("expected concatenated parts, got %q", resp.Content)
	}
	if *resp.Usage.ReasoningTokens != 5 {
		t.Errorf("expected 5 reasoning tokens, got %v", resp.Usage.ReasoningTokens)
	}
	if *resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total 15, got %v", resp.Usage.TotalTokens)
	}
}

func TestChat_ModelsPrefixNotDoubled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-pro:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(srv).Chat(context.Background(), domain.ChatRequest{
		Model:    "models/gemini-2.5-pro",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChat_GenerationConfigOnlyWhenSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if _, ok := raw["generationConfig"]; ok {
			t.Error("expected no generationConfig for a bare request")
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(srv).Chat(context.Background(), domain.ChatRequest{
		Model:    "gemini-2.5-flash",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestChatStream_Unsupported(t *testing.T) {
	p := New("gemini", "", "k", nil, nil)

	events, errs := p.ChatStream(context.Background(), domain.ChatRequest{Model: "m"})
	for range events {
	}
	if err := <-errs; !errors.Is(err, domain.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestToParts_InlineImageAndAudio(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("tiny image"))
	p := New("gemini", "", "k", nil, nil)

	parts, err := p.toParts(context.Background(), domain.PartsContent(
		domain.TextPart("caption:"),
		domain.ImagePart("data:image/png;base64,"+b64),
		domain.Part{Type: domain.PartInputAudio, InputAudio: &domain.InputAudio{Data: "QUJD", Format: "wav"}},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}

	img := parts[1].InlineData
	if img == nil || img.MIMEType != "image/png" || img.Data != b64 {
		t.Errorf("unexpected image part %+v", parts[1])
	}
	audio := parts[2].InlineData
	if audio == nil || audio.MIMEType != "audio/wav" || audio.Data != "QUJD" {
		t.Errorf("unexpected audio part %+v", parts[2])
	}
}

func TestToParts_RemoteURLBecomesFileData(t *testing.T) {
	p := New("gemini", "", "k", nil, nil)

	parts, err := p.toParts(context.Background(), domain.PartsContent(
		domain.ImagePart("https://example.com/cat.png"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parts[0].FileData == nil || parts[0].FileData.FileURI != "https://example.com/cat.png" {
		t.Errorf("expected file_data passthrough, got %+v", parts[0])
	}
}

func TestToParts_RejectsFilePart(t *testing.T) {
	p := New("gemini", "", "k", nil, nil)

	_, err := p.toParts(context.Background(), domain.PartsContent(
		domain.Part{Type: domain.PartFile, File: &domain.FilePart{FileID: "f1"}},
	))
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestMediaPart_UploadAtInlineLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/v1beta/files":
			w.Header().Set("x-goog-upload-url", srv.URL+"/session/big")
		case "/session/big":
			w.Write([]byte(`{"file":{"uri":"https://generativelanguage.googleapis.com/v1beta/files/big"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	payload := bytes.Repeat([]byte{0xAB}, InlineLimitBytes)

	part, err := p.mediaPart(context.Background(), &domain.ImageURL{
		URL: "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if part.FileData == nil || !strings.HasSuffix(part.FileData.FileURI, "/files/big") {
		t.Errorf("expected an uploaded file reference at the limit, got %+v", part)
	}

	part, err = p.mediaPart(context.Background(), &domain.ImageURL{
		URL: "data:video/mp4;base64," + base64.StdEncoding.EncodeToString(payload[:InlineLimitBytes-1]),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if part.InlineData == nil {
		t.Errorf("expected inline data below the limit, got %+v", part)
	}
}

func TestUpload_ResumableProtocol(t *testing.T) {
	payload := []byte("large video bytes")
	var sessionHit bool
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/upload/v1beta/files":
			if got := r.Header.Get("X-Goog-Upload-Protocol"); got != "resumable" {
				t.Errorf("expected resumable protocol, got %q", got)
			}
			if got := r.Header.Get("X-Goog-Upload-Command"); got != "start" {
				t.Errorf("expected start command, got %q", got)
			}
			if got := r.Header.Get("X-Goog-Upload-Header-Content-Type"); got != "video/mp4" {
				t.Errorf("expected content type header, got %q", got)
			}
			if got := r.Header.Get("X-Goog-Upload-Header-Content-Length"); got != "17" {
				t.Errorf("expected length header 17, got %q", got)
			}
			w.Header().Set("x-goog-upload-url", srv.URL+"/session/abc")
		case "/session/abc":
			sessionHit = true
			if got := r.Header.Get("X-Goog-Upload-Command"); got != "upload, finalize" {
				t.Errorf("expected finalize command, got %q", got)
			}
			if got := r.Header.Get("X-Goog-Upload-Offset"); got != "0" {
				t.Errorf("expected offset 0, got %q", got)
			}
			body := make([]byte, len(payload))
			r.Body.Read(body)
			if string(body) != string(payload) {
				t.Errorf("expected payload bytes, got %q", body)
			}
			w.Write([]byte(`{"file":{"uri":"https://generativelanguage.googleapis.com/v1beta/files/xyz"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	uri, err := newTestProvider(srv).Upload(context.Background(), "video/mp4", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sessionHit {
		t.Error("expected the session URL to be used")
	}
	if !strings.HasSuffix(uri, "/files/xyz") {
		t.Errorf("unexpected uri %q", uri)
	}
}

func TestEmbeddings_BatchEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/text-embedding-004:batchEmbedContents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"embeddings":[{"values":[0.5,0.6]},{"values":[0.7]}]}`))
	}))
	defer srv.Close()

	resp, err := newTestProvider(srv).Embeddings(context.Background(), domain.EmbeddingRequest{
		Model: "text-embedding-004",
		Input: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Embeddings) != 2 || resp.Embeddings[0][1] != 0.6 {
		t.Errorf("unexpected embeddings %v", resp.Embeddings)
	}
}

func TestGenerateImage_InlineData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		json.NewDecoder(r.Body).Decode(&raw)
		if !strings.Contains(string(raw["generationConfig"]), "IMAGE") {
			t.Errorf("expected IMAGE response modality, got %s", raw["generationConfig"])
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[
			{"text":"Here you go"},
			{"inlineData":{"mime_type":"image/png","data":"aW1n"}}
		]}}]}`))
	}))
	defer srv.Close()

	resp, err := newTestProvider(srv).GenerateImage(context.Background(), domain.ImageRequest{
		Model:  "gemini-2.5-flash-image",
		Prompt: "a lighthouse",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Images) != 1 || resp.Images[0].B64 != "aW1n" {
		t.Errorf("unexpected images %+v", resp.Images)
	}
}

func TestGenerateVideo_LongRunningOperation(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			var body struct {
				Instances []struct {
					Prompt string `json:"prompt"`
				} `json:"instances"`
				Parameters map[string]string `json:"parameters"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if len(body.Instances) != 1 || body.Instances[0].Prompt != "waves" {
				t.Errorf("unexpected instances %+v", body.Instances)
			}
			if body.Parameters["durationSeconds"] != "8" {
				t.Errorf("expected durationSeconds 8, got %v", body.Parameters)
			}
			w.Write([]byte(`{"name":"operations/op-1","done":false}`))
		case r.URL.Path == "/v1beta/operations/op-1":
			polls++
			if polls < 2 {
				w.Write([]byte(`{"name":"operations/op-1","done":false}`))
				return
			}
			w.Write([]byte(`{"name":"operations/op-1","done":true,
				"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://files/video-1"}}]}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	resp, err := newTestProvider(srv).GenerateVideo(context.Background(), domain.VideoRequest{
		Model:           "veo-3",
		Prompt:          "waves",
		Seconds:         "8",
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.URI != "https://files/video-1" {
		t.Errorf("unexpected uri %q", resp.URI)
	}
}

func TestGenerateVideo_OperationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ":predictLongRunning") {
			w.Write([]byte(`{"name":"operations/op-1","done":false}`))
			return
		}
		w.Write([]byte(`{"name":"operations/op-1","done":true,"error":{"message":"quota exhausted"}}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(srv).GenerateVideo(context.Background(), domain.VideoRequest{
		Model:           "veo-3",
		Prompt:          "x",
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Errorf("expected vendor message, got %v", err)
	}
}

func TestGenerateVideo_PollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"operations/op-1","done":false}`))
	}))
	defer srv.Close()

	_, err := newTestProvider(srv).GenerateVideo(context.Background(), domain.VideoRequest{
		Model:           "veo-3",
		Prompt:          "x",
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 3,
	})
	if !errors.Is(err, domain.ErrPollTimeout) {
		t.Errorf("expected ErrPollTimeout, got %v", err)
	}
}
