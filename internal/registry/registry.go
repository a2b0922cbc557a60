// Package registry holds model metadata merged from several sources:
// remote catalogs, a static embedded table, and a local override file.
// Entries drive pricing estimates and capability gating before dispatch.
package registry

import (
	"time"
)

type ModelPricing struct {
	PromptPer1K     *float64 `json:"prompt_per_1k,omitempty"`
	CompletionPer1K *float64 `json:"completion_per_1k,omitempty"`
	Request         *float64 `json:"request,omitempty"`
}

// ModelCapability fields are tri-state: true, false, or unknown (nil).
type ModelCapability struct {
	Vision    *bool `json:"vision,omitempty"`
	Reasoning *bool `json:"reasoning,omitempty"`
	WebSearch *bool `json:"web_search,omitempty"`
}

type ModelEntry struct {
	ID            string           `json:"id"`
	Provider      string           `json:"provider,omitempty"`
	DisplayName   string           `json:"display_name,omitempty"`
	ContextWindow *int64           `json:"context_window,omitempty"`
	Pricing       *ModelPricing    `json:"pricing,omitempty"`
	Capability    *ModelCapability `json:"capability,omitempty"`
}

type Registry struct {
	Version   int          `json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
	Models    []ModelEntry `json:"models"`

	index map[string]int
}

const currentVersion = 1

func New(models []ModelEntry) *Registry {
	r := &Registry{
		Version:   currentVersion,
		UpdatedAt: time.Now().UTC(),
		Models:    models,
	}
	r.reindex()
	return r
}

func (r *Registry) reindex() {
	r.index = make(map[string]int, len(r.Models))
	for i, m := range r.Models {
		r.index[m.ID] = i
	}
}

// Find returns the entry with the exact id, or nil.
func (r *Registry) Find(id string) *ModelEntry {
	if r == nil {
		return nil
	}
	if r.index == nil {
		r.reindex()
	}
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return &r.Models[i]
}

// Resolve returns the entry for the first candidate key present, together
// with the key that matched. Candidates are tried strictly in order, so
// resolution is deterministic for a given registry.
func (r *Registry) Resolve(candidates []string) (*ModelEntry, string) {
	for _, key := range candidates {
		if e := r.Find(key); e != nil {
			return e, key
		}
	}
	return nil, ""
}

// Merge combines sources in order. A later source replaces an earlier
// entry with the same id wholesale; fields are never merged.
func Merge(sources ...[]ModelEntry) *Registry {
	var models []ModelEntry
	seen := make(map[string]int)
	for _, src := range sources {
		for _, m := range src {
			if i, ok := seen[m.ID]; ok {
				models[i] = m
				continue
			}
			seen[m.ID] = len(models)
			models = append(models, m)
		}
	}
	return New(models)
}
