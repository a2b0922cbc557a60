package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-council/internal/budget"
	"github.com/felipepmaragno/llm-council/internal/cache"
	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/provider"
	"github.com/felipepmaragno/llm-council/internal/registry"
)

func f64(v float64) *float64 { return &v }

func b(v bool) *bool { return &v }

func chatUpstream(t *testing.T, hits *int32, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Write([]byte(body))
	}))
}

func testOptions(srv *httptest.Server, reg *registry.Registry) Options {
	return Options{
		DefaultProvider: "openai",
		Providers: []provider.Config{
			{Name: "openai", Kind: provider.KindOpenAI, BaseURL: srv.URL, APIKey: "sk-test"},
			{Name: "openrouter", Kind: provider.KindOpenAI, BaseURL: srv.URL, APIKey: "sk-or"},
		},
		HTTPClient: srv.Client(),
		Registry:   reg,
	}
}

const chatBody = `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"content":"pong"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`

func TestCompletion_EndToEnd(t *testing.T) {
	srv := chatUpstream(t, nil, chatBody)
	defer srv.Close()

	c := New(testOptions(srv, nil))
	resp, err := c.Completion(context.Background(), domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("ping")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("expected pong, got %q", resp.Content)
	}
}

func TestCompletion_CapabilityGateBlocksBeforeDispatch(t *testing.T) {
	var hits int32
	srv := chatUpstream(t, &hits, chatBody)
	defer srv.Close()

	reg := registry.New([]registry.ModelEntry{
		{ID: "gpt-3.5-turbo", Capability: &registry.ModelCapability{Vision: b(false)}},
	})
	c := New(testOptions(srv, reg))

	_, err := c.Completion(context.Background(), domain.ChatRequest{
		Model: "gpt-3.5-turbo",
		Messages: []domain.Message{{
			Role:    "user",
			Content: domain.PartsContent(domain.TextPart("what is this"), domain.ImagePart("https://x/y.png")),
		}},
	})
	if !errors.Is(err, domain.ErrMediaUnsupported) {
		t.Fatalf("expected ErrMediaUnsupported, got %v", err)
	}
	if hits != 0 {
		t.Errorf("expected no upstream call, got %d", hits)
	}
}

func TestCompletion_CacheHitSkipsSecondCall(t *testing.T) {
	var hits int32
	srv := chatUpstream(t, &hits, chatBody)
	defer srv.Close()

	opts := testOptions(srv, nil)
	opts.Cache = cache.NewInMemoryCache()
	opts.CacheTTL = time.Minute
	c := New(opts)

	req := domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("ping")}},
	}
	if _, err := c.Completion(context.Background(), req); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	resp, err := c.Completion(context.Background(), req)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if hits != 1 {
		t.Errorf("expected one upstream call, got %d", hits)
	}
	if resp.Content != "pong" {
		t.Errorf("expected cached content, got %q", resp.Content)
	}
}

func TestCompletion_BudgetRefusal(t *testing.T) {
	var hits int32
	srv := chatUpstream(t, &hits, chatBody)
	defer srv.Close()

	reg := registry.New([]registry.ModelEntry{
		{ID: "gpt-4o", Pricing: &registry.ModelPricing{PromptPer1K: f64(10), CompletionPer1K: f64(10)}},
	})
	opts := testOptions(srv, reg)
	opts.Budget = budget.NewStore(filepath.Join(t.TempDir(), "budget.json"), budget.Limits{DailyCapUSD: f64(0.01)})
	c := New(opts)

	_, err := c.Completion(context.Background(), domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("an expensive question")}},
	})
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if hits != 0 {
		t.Errorf("expected no upstream call, got %d", hits)
	}
}

func TestCompletion_FailClosedWithoutPricing(t *testing.T) {
	srv := chatUpstream(t, nil, chatBody)
	defer srv.Close()

	opts := testOptions(srv, nil)
	opts.Budget = budget.NewStore(filepath.Join(t.TempDir(), "budget.json"), budget.Limits{DailyCapUSD: f64(5)})
	c := New(opts)

	_, err := c.Completion(context.Background(), domain.ChatRequest{
		Model:    "unknown-model",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("hi")}},
	})
	if !errors.Is(err, domain.ErrEstimateUnavailable) {
		t.Fatalf("expected ErrEstimateUnavailable, got %v", err)
	}
}

func TestCompletion_OpenRouterCostEnrichment(t *testing.T) {
	var enriched int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			w.Write([]byte(`{"id":"gen-77","model":"openai/gpt-4o","choices":[{"message":{"content":"ok"}}],"usage":{}}`))
		case "/generation":
			atomic.AddInt32(&enriched, 1)
			if r.URL.Query().Get("id") != "gen-77" {
				t.Errorf("expected id gen-77, got %q", r.URL.Query().Get("id"))
			}
			w.Write([]byte(`{"data":{"total_cost":0.0042}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(testOptions(srv, nil))
	resp, err := c.Completion(context.Background(), domain.ChatRequest{
		Model:    "openrouter/openai/gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("hi")}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if enriched != 1 {
		t.Errorf("expected one accounting lookup, got %d", enriched)
	}
	if resp.CostUSD == nil || *resp.CostUSD != 0.0042 {
		t.Errorf("expected enriched cost, got %v", resp.CostUSD)
	}
}

func TestEstimateCost(t *testing.T) {
	srv := chatUpstream(t, nil, chatBody)
	defer srv.Close()

	reg := registry.New([]registry.ModelEntry{
		{ID: "gpt-4o", Pricing: &registry.ModelPricing{PromptPer1K: f64(0.005), CompletionPer1K: f64(0.015)}},
	})
	c := New(testOptions(srv, reg))

	est, err := c.EstimateCost("", "gpt-4o", 1000, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est == nil || est.CostUSD != 0.02 {
		t.Errorf("expected 0.02, got %+v", est)
	}

	est, err = c.EstimateCost("", "mystery-model", 1000, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est != nil {
		t.Errorf("expected nil estimate without pricing, got %+v", est)
	}
}

func TestCompletion_UnknownProvider(t *testing.T) {
	srv := chatUpstream(t, nil, chatBody)
	defer srv.Close()

	opts := testOptions(srv, nil)
	opts.DefaultProvider = "nonexistent"
	c := New(opts)

	_, err := c.Completion(context.Background(), domain.ChatRequest{
		Model:    "some-model",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("hi")}},
	})
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestStreamCompletion_ForwardsEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"str\"}}]}\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"eam\"}}]}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := New(testOptions(srv, nil))
	events, errs := c.StreamCompletion(context.Background(), domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("hi")}},
	})

	var got string
	for ev := range events {
		got += ev.Content
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if got != "stream" {
		t.Errorf("expected stream, got %q", got)
	}
}

func TestStreamCompletion_AbandonedConsumerSettlesReservation(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		if atomic.AddInt32(&calls, 1) == 1 {
			for {
				if _, err := w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")); err != nil {
					return
				}
				fl.Flush()
				select {
				case <-r.Context().Done():
					return
				case <-time.After(time.Millisecond):
				}
			}
		}
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\ndata: [DONE]\n"))
	}))
	defer srv.Close()

	reg := registry.New([]registry.ModelEntry{
		{ID: "gpt-4o", Pricing: &registry.ModelPricing{PromptPer1K: f64(1), CompletionPer1K: f64(1)}},
	})
	opts := testOptions(srv, reg)
	// The cap fits one reservation at a time: a leaked reservation from the
	// first stream would refuse the second.
	opts.Budget = budget.NewStore(filepath.Join(t.TempDir(), "budget.json"), budget.Limits{DailyCapUSD: f64(1.5)})
	c := New(opts)

	req := domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: domain.TextContent("a slow question")}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, errs := c.StreamCompletion(ctx, req)
	if _, ok := <-events; !ok {
		t.Fatal("expected at least one event before abandoning the stream")
	}
	cancel()
	for range events {
	}
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	events, errs = c.StreamCompletion(context.Background(), req)
	var got string
	for ev := range events {
		got += ev.Content
	}
	if err := <-errs; err != nil {
		t.Fatalf("expected the released reservation to admit a second stream, got %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	maxTokens := 256
	req := domain.ChatRequest{
		MaxTokens: &maxTokens,
		Messages: []domain.Message{
			{Role: "user", Content: domain.TextContent("12345678")},
		},
	}

	in, out := estimateTokens(req)
	if in != 2 {
		t.Errorf("expected 2 input tokens for 8 chars, got %d", in)
	}
	if out != 256 {
		t.Errorf("expected max_tokens as output bound, got %d", out)
	}

	req.MaxTokens = nil
	_, out = estimateTokens(req)
	if out != defaultEstimateOutputTokens {
		t.Errorf("expected default output bound, got %d", out)
	}
}
