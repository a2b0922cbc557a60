package client

import (
	"context"
	"time"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/metrics"
	"github.com/felipepmaragno/llm-council/internal/telemetry"
)

func (c *Client) Embedding(ctx context.Context, req domain.EmbeddingRequest) (*domain.EmbeddingResponse, error) {
	spec, _, err := c.Resolve("", req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "client.embedding")
	defer span.End()

	d, err := c.dispatcher(ctx, spec.Provider)
	if err != nil {
		return nil, err
	}

	upstream := req
	upstream.Model = spec.Model

	start := time.Now()
	resp, err := d.Embeddings(ctx, upstream)
	if err != nil {
		metrics.RecordRequest(spec.Provider, spec.Model, "error", time.Since(start).Seconds())
		metrics.RecordProviderError(spec.Provider, "embeddings")
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	metrics.RecordRequest(spec.Provider, spec.Model, "success", time.Since(start).Seconds())
	return resp, nil
}

func (c *Client) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResponse, error) {
	spec, _, err := c.Resolve("", req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "client.image")
	defer span.End()

	d, err := c.dispatcher(ctx, spec.Provider)
	if err != nil {
		return nil, err
	}

	upstream := req
	upstream.Model = spec.Model

	start := time.Now()
	resp, err := d.GenerateImage(ctx, upstream)
	if err != nil {
		metrics.RecordRequest(spec.Provider, spec.Model, "error", time.Since(start).Seconds())
		metrics.RecordProviderError(spec.Provider, "image")
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	metrics.RecordRequest(spec.Provider, spec.Model, "success", time.Since(start).Seconds())
	return resp, nil
}

func (c *Client) GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResponse, error) {
	spec, _, err := c.Resolve("", req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "client.video")
	defer span.End()

	d, err := c.dispatcher(ctx, spec.Provider)
	if err != nil {
		return nil, err
	}

	upstream := req
	upstream.Model = spec.Model

	start := time.Now()
	resp, err := d.GenerateVideo(ctx, upstream)
	if err != nil {
		metrics.RecordRequest(spec.Provider, spec.Model, "error", time.Since(start).Seconds())
		metrics.RecordProviderError(spec.Provider, "video")
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	metrics.RecordRequest(spec.Provider, spec.Model, "success", time.Since(start).Seconds())
	return resp, nil
}
