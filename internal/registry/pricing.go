package registry

// PricingEstimate is a pre-call cost projection for a token budget.
type PricingEstimate struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Estimate prices a prospective call. Both per-1K rates must be known or
// the estimate is indeterminate (nil); a missing flat request fee counts
// as zero.
func Estimate(e *ModelEntry, inputTokens, outputTokens int64) *PricingEstimate {
	if e == nil || e.Pricing == nil {
		return nil
	}
	p := e.Pricing
	if p.PromptPer1K == nil || p.CompletionPer1K == nil {
		return nil
	}

	cost := float64(inputTokens) / 1000 * (*p.PromptPer1K)
	cost += float64(outputTokens) / 1000 * (*p.CompletionPer1K)
	if p.Request != nil {
		cost += *p.Request
	}

	return &PricingEstimate{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	}
}
