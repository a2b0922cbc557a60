package cache

import (
	"context"
	"testing"
	"time"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

func TestGenerateCacheKey_Deterministic(t *testing.T) {
	req := domain.ChatRequest{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: "user", Content: domain.TextContent("hello")},
		},
		Temperature: domain.Float64(0.7),
	}

	if GenerateCacheKey("openai", req) != GenerateCacheKey("openai", req) {
		t.Error("expected identical requests to share a key")
	}
}

func TestGenerateCacheKey_VariesByInputs(t *testing.T) {
	base := domain.ChatRequest{
		Model: "gpt-4o",
		Messages: []domain.Message{
			{Role: "user", Content: domain.TextContent("hello")},
		},
	}
	baseKey := GenerateCacheKey("openai", base)

	otherModel := base
	otherModel.Model = "gpt-4o-mini"
	if GenerateCacheKey("openai", otherModel) == baseKey {
		t.Error("expected different key for different model")
	}

	otherTemp := base
	otherTemp.Temperature = domain.Float64(0.2)
	if GenerateCacheKey("openai", otherTemp) == baseKey {
		t.Error("expected different key for different temperature")
	}

	if GenerateCacheKey("openrouter", base) == baseKey {
		t.Error("expected different key for different provider")
	}
}

func TestInMemoryCache_SetAndGet(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	resp := &domain.ChatResponse{Content: "cached answer"}
	if err := c.Set(ctx, "k", resp, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Content != "cached answer" {
		t.Errorf("expected cached answer, got %q", got.Content)
	}
}

func TestInMemoryCache_MissingKey(t *testing.T) {
	c := NewInMemoryCache()

	if _, ok := c.Get(context.Background(), "absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestInMemoryCache_TTLExpiry(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", &domain.ChatResponse{Content: "x"}, 10*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected expired entry to miss")
	}
}
