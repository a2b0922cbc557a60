package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/llm-council/internal/cache"
	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/metrics"
	"github.com/felipepmaragno/llm-council/internal/registry"
	"github.com/felipepmaragno/llm-council/internal/telemetry"
)

// Completion dispatches one chat request through the full pipeline:
// resolution, capability gate, budget reservation, cache, breaker, the
// provider call, and spend recording.
func (c *Client) Completion(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	spec, entry, err := c.Resolve("", req.Model)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "client.completion")
	defer span.End()
	requestID := uuid.NewString()
	telemetry.AddDispatchAttributes(span, spec.Provider, spec.Model, requestID)

	if err := registry.CheckMedia(entry, spec.String(), wantsVision(req)); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	inTok, outTok := estimateTokens(req)
	estimate := registry.Estimate(entry, inTok, outTok)

	var reservation string
	if c.budget != nil {
		var estUSD *float64
		if estimate != nil {
			estUSD = &estimate.CostUSD
		}
		reservation, err = c.budget.Reserve(estUSD, time.Now())
		if err != nil {
			if errors.Is(err, domain.ErrBudgetExceeded) || errors.Is(err, domain.ErrEstimateUnavailable) {
				metrics.BudgetRefusals.Inc()
			}
			telemetry.AddErrorAttribute(span, err)
			return nil, err
		}
	}
	var cacheKey string
	if c.cache != nil {
		cacheKey = cache.GenerateCacheKey(spec.Provider, req)
		if cached, ok := c.cache.Get(ctx, cacheKey); ok {
			c.releaseReservation(reservation)
			metrics.CacheHits.Inc()
			telemetry.AddCacheAttribute(span, true)
			return cached, nil
		}
		metrics.CacheMisses.Inc()
		telemetry.AddCacheAttribute(span, false)
	}

	breaker := c.breakers.Get(spec.Provider)
	if err := breaker.Allow(); err != nil {
		c.releaseReservation(reservation)
		telemetry.AddErrorAttribute(span, err)
		return nil, fmt.Errorf("provider %s: %w", spec.Provider, err)
	}

	d, err := c.dispatcher(ctx, spec.Provider)
	if err != nil {
		c.releaseReservation(reservation)
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	upstream := req
	upstream.Model = spec.Model

	start := time.Now()
	resp, err := d.Chat(ctx, upstream)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.releaseReservation(reservation)
		breaker.RecordFailure()
		c.breakers.Observe(spec.Provider)
		metrics.RecordRequest(spec.Provider, spec.Model, "error", elapsed)
		metrics.RecordProviderError(spec.Provider, "chat")
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	breaker.RecordSuccess()
	c.breakers.Observe(spec.Provider)

	c.enrichCost(ctx, spec.Provider, resp)

	actual := c.settle(resp, estimate, reservation)

	in, out := resp.Usage.Tokens()
	metrics.RecordRequest(spec.Provider, spec.Model, "success", elapsed)
	metrics.RecordTokens(spec.Provider, spec.Model, in, out)
	telemetry.AddTokenAttributes(span, in, out)
	if actual != nil {
		metrics.RecordCost(spec.Provider, spec.Model, *actual)
		telemetry.AddCostAttribute(span, *actual)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, resp, c.cacheTTL); err != nil {
			slog.Warn("failed to cache response", "error", err)
		}
	}

	return resp, nil
}

// settle records spend against the reservation exactly once, preferring
// the provider-reported cost over the estimate. It returns the recorded
// amount.
func (c *Client) settle(resp *domain.ChatResponse, estimate *registry.PricingEstimate, reservation string) *float64 {
	var actual *float64
	if resp.CostUSD != nil {
		actual = resp.CostUSD
	} else if estimate != nil {
		actual = &estimate.CostUSD
	}

	if c.budget != nil && reservation != "" {
		var amount float64
		if actual != nil {
			amount = *actual
		}
		if err := c.budget.Commit(reservation, amount, time.Now()); err != nil {
			slog.Warn("failed to record spend", "error", err)
		}
	}
	return actual
}

// enrichCost asks an aggregator's accounting endpoint for the exact cost
// of a finished call. Best-effort: any failure leaves the estimate in
// place.
func (c *Client) enrichCost(ctx context.Context, providerName string, resp *domain.ChatResponse) {
	if providerName != "openrouter" || resp.CostUSD != nil || resp.ID == "" {
		return
	}
	d, err := c.dispatcher(ctx, providerName)
	if err != nil {
		return
	}
	accounting, ok := d.(interface {
		GenerationCost(ctx context.Context, id string) (float64, error)
	})
	if !ok {
		return
	}
	cost, err := accounting.GenerationCost(ctx, resp.ID)
	if err != nil {
		slog.Debug("generation cost lookup failed", "error", err)
		return
	}
	resp.CostUSD = &cost
}

// StreamCompletion dispatches a streaming request. The budget reservation
// is settled when the stream finishes: committed with the estimate on
// success, released on failure.
func (c *Client) StreamCompletion(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, <-chan error) {
	fail := func(err error) (<-chan domain.StreamEvent, <-chan error) {
		events := make(chan domain.StreamEvent)
		errs := make(chan error, 1)
		errs <- err
		close(events)
		close(errs)
		return events, errs
	}

	spec, entry, err := c.Resolve("", req.Model)
	if err != nil {
		return fail(err)
	}
	if err := registry.CheckMedia(entry, spec.String(), wantsVision(req)); err != nil {
		return fail(err)
	}

	inTok, outTok := estimateTokens(req)
	estimate := registry.Estimate(entry, inTok, outTok)

	var reservation string
	if c.budget != nil {
		var estUSD *float64
		if estimate != nil {
			estUSD = &estimate.CostUSD
		}
		reservation, err = c.budget.Reserve(estUSD, time.Now())
		if err != nil {
			if errors.Is(err, domain.ErrBudgetExceeded) || errors.Is(err, domain.ErrEstimateUnavailable) {
				metrics.BudgetRefusals.Inc()
			}
			return fail(err)
		}
	}

	breaker := c.breakers.Get(spec.Provider)
	if err := breaker.Allow(); err != nil {
		c.releaseReservation(reservation)
		return fail(fmt.Errorf("provider %s: %w", spec.Provider, err))
	}

	d, err := c.dispatcher(ctx, spec.Provider)
	if err != nil {
		c.releaseReservation(reservation)
		return fail(err)
	}

	upstream := req
	upstream.Model = spec.Model
	events, errs := d.ChatStream(ctx, upstream)

	outEvents := make(chan domain.StreamEvent)
	outErrs := make(chan error, 1)
	go func() {
		defer close(outEvents)
		defer close(outErrs)

		var streamErr error
		for events != nil || errs != nil {
			select {
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				select {
				case outEvents <- ev:
				case <-ctx.Done():
					// Consumer walked away. The breaker stays untouched:
					// the provider did nothing wrong.
					c.releaseReservation(reservation)
					outErrs <- ctx.Err()
					return
				}
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					streamErr = err
				}
			}
		}

		if streamErr != nil {
			breaker.RecordFailure()
			metrics.RecordProviderError(spec.Provider, "stream")
			c.releaseReservation(reservation)
			outErrs <- streamErr
			return
		}

		breaker.RecordSuccess()
		if c.budget != nil && reservation != "" {
			var amount float64
			if estimate != nil {
				amount = estimate.CostUSD
			}
			if err := c.budget.Commit(reservation, amount, time.Now()); err != nil {
				slog.Warn("failed to record spend", "error", err)
			}
		}
	}()

	return outEvents, outErrs
}

func (c *Client) releaseReservation(reservation string) {
	if c.budget == nil || reservation == "" {
		return
	}
	if err := c.budget.Release(reservation, time.Now()); err != nil {
		slog.Warn("failed to release budget reservation", "error", err)
	}
}
