// Package router canonicalizes model references. A caller may name a model
// three ways: bare ("gpt-4o"), namespaced ("openai/gpt-4o"), or namespaced
// for an aggregator ("openrouter/openai/gpt-4o"); BuildSpec reduces all of
// them to one provider/model pair.
package router

import (
	"fmt"
	"strings"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

var knownProviders = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"gemini":     true,
	"openrouter": true,
}

// aggregators front other vendors, so their model ids must themselves be
// namespaced.
var aggregators = map[string]bool{
	"openrouter": true,
}

// Spec is a fully resolved model reference.
type Spec struct {
	Provider string
	Model    string
}

func (s Spec) String() string {
	return s.Provider + "/" + s.Model
}

// BuildSpec resolves an explicit provider, a possibly namespaced model id,
// and a configured default into a canonical Spec. The same inputs always
// produce the same output.
func BuildSpec(provider, model, defaultProvider string) (Spec, error) {
	if model == "" {
		return Spec{}, fmt.Errorf("empty model: %w", domain.ErrInvalidRequest)
	}

	head, rest, namespaced := strings.Cut(model, "/")

	if provider == "" {
		if namespaced && knownProviders[head] {
			provider = head
			model = rest
		} else {
			provider = defaultProvider
		}
		if provider == "" {
			return Spec{}, fmt.Errorf("model %q has no provider and no default is configured: %w", model, domain.ErrProviderNotFound)
		}
	} else if namespaced && knownProviders[head] {
		switch {
		case head == provider:
			// Same provider named twice; strip rather than double it.
			model = rest
		case aggregators[provider]:
			// The inner namespace belongs to the aggregator's model id,
			// not to us ("openrouter" + "openai/gpt-4o").
		default:
			return Spec{}, fmt.Errorf("model %q is namespaced for provider %q but provider %q was requested: %w",
				model, head, provider, domain.ErrInvalidRequest)
		}
	}

	if aggregators[provider] && !strings.Contains(model, "/") {
		return Spec{}, fmt.Errorf("provider %q requires a namespaced model id, got %q: %w",
			provider, model, domain.ErrInvalidRequest)
	}

	return Spec{Provider: provider, Model: model}, nil
}

// RegistryKeys returns the ordered candidate keys used to look a spec up
// in the registry. The first key present wins; with no registry at all the
// first candidate stands in for the entry id.
func RegistryKeys(s Spec) []string {
	trimmed := strings.TrimPrefix(s.Model, "models/")

	candidates := []string{
		s.Model,
		trimmed,
		s.Provider + "/" + s.Model,
		s.Provider + "/" + trimmed,
	}
	if s.Provider == "gemini" {
		// Catalogs commonly file gemini models under the vendor name.
		candidates = append(candidates, "google/"+trimmed)
	}

	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
