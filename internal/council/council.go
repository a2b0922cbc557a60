// Package council fans one prompt out to several models and collects the
// answers in the order the models were given, regardless of which finishes
// first.
package council

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/metrics"
	"github.com/felipepmaragno/llm-council/internal/telemetry"
)

const (
	DefaultParallelism = 4

	// DryRunPlaceholder stands in for a model answer when no provider
	// call is executed.
	DryRunPlaceholder = "(dry-run) no provider call executed"
)

// Completer dispatches one chat request; the client facade satisfies it.
type Completer interface {
	Completion(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

type Options struct {
	Parallelism int
	DryRun      bool
}

type Member struct {
	Model    string               `json:"model"`
	Response *domain.ChatResponse `json:"response"`
}

type Result struct {
	Members []Member     `json:"members"`
	Usage   domain.Usage `json:"usage"`
}

type Orchestrator struct {
	completer   Completer
	parallelism int
	dryRun      bool
}

func New(c Completer, opts Options) *Orchestrator {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Orchestrator{
		completer:   c,
		parallelism: parallelism,
		dryRun:      opts.DryRun,
	}
}

// Run sends the request to every model, at most parallelism at a time; a
// task holds its slot for its entire call. Any failure fails the whole run,
// but in-flight siblings are left to finish: their contexts are not
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, models []string, req domain.ChatRequest) (*Result, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("council needs at least one model: %w", domain.ErrInvalidRequest)
	}

	ctx, span := telemetry.StartSpan(ctx, "council.run")
	defer span.End()

	members := make([]Member, len(models))

	if o.dryRun {
		for i, model := range models {
			members[i] = Member{
				Model:    model,
				Response: &domain.ChatResponse{Model: model, Content: DryRunPlaceholder},
			}
		}
		return &Result{Members: members}, nil
	}

	var g errgroup.Group
	g.SetLimit(o.parallelism)

	for i, model := range models {
		g.Go(func() error {
			metrics.CouncilInFlight.Inc()
			defer metrics.CouncilInFlight.Dec()

			r := req
			r.Model = model
			resp, err := o.completer.Completion(ctx, r)
			if err != nil {
				return fmt.Errorf("council member %s: %w", model, err)
			}
			members[i] = Member{Model: model, Response: resp}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	var usage domain.Usage
	for _, m := range members {
		usage = usage.Merge(m.Response.Usage)
	}
	return &Result{Members: members, Usage: usage}, nil
}
