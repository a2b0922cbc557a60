package registry

import (
	"fmt"
	"log/slog"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

// CheckMedia gates a request carrying visual input. A model known to lack
// vision fails hard before any network call; an unknown capability only
// warns, since registry data is often incomplete.
func CheckMedia(e *ModelEntry, model string, wantVision bool) error {
	if !wantVision {
		return nil
	}

	if e == nil || e.Capability == nil || e.Capability.Vision == nil {
		slog.Warn("vision support unknown for model, proceeding", "model", model)
		return nil
	}

	if !*e.Capability.Vision {
		return fmt.Errorf("model %s: %w", model, domain.ErrMediaUnsupported)
	}
	return nil
}
