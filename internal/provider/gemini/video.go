package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
)

const (
	defaultPollInterval = 5 * time.Second
	// Roughly twenty minutes at the default interval.
	defaultPollAttempts = 240
)

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			GeneratedVideos []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedVideos"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// GenerateVideo starts a long-running video operation and polls it until it
// completes. A vendor-reported failure surfaces verbatim; running out of
// poll attempts is a distinct timeout error.
func (p *Provider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResponse, error) {
	payload := struct {
		Instances []struct {
			Prompt string `json:"prompt"`
		} `json:"instances"`
		Parameters map[string]string `json:"parameters,omitempty"`
	}{
		Instances: []struct {
			Prompt string `json:"prompt"`
		}{{Prompt: req.Prompt}},
	}
	if req.Seconds != "" {
		payload.Parameters = map[string]string{"durationSeconds": req.Seconds}
	}

	var op operation
	url := fmt.Sprintf("%s/v1beta/%s:predictLongRunning", p.baseURL, modelPath(req.Model))
	if _, err := httputil.SendJSON(ctx, p.client, http.MethodPost, url, p.headers(), payload, &op, p.retry); err != nil {
		return nil, fmt.Errorf("%s video submit: %w", p.name, err)
	}
	if op.Name == "" {
		return nil, fmt.Errorf("%s video submit: no operation name in response", p.name)
	}

	interval := req.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := req.MaxPollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		var polled operation
		pollURL := p.baseURL + "/v1beta/" + op.Name
		if _, err := httputil.SendJSON(ctx, p.client, http.MethodGet, pollURL, p.headers(), nil, &polled, p.retry); err != nil {
			return nil, fmt.Errorf("%s video poll: %w", p.name, err)
		}

		if !polled.Done {
			continue
		}
		if polled.Error != nil {
			return nil, fmt.Errorf("%s video operation failed: %s", p.name, polled.Error.Message)
		}
		if uri := videoURI(polled); uri != "" {
			return &domain.VideoResponse{URI: uri}, nil
		}
		return nil, fmt.Errorf("%s video operation finished without a video URI", p.name)
	}

	return nil, fmt.Errorf("%s video operation %s: %w", p.name, op.Name, domain.ErrPollTimeout)
}

func videoURI(op operation) string {
	r := op.Response.GenerateVideoResponse
	if len(r.GeneratedSamples) > 0 {
		return r.GeneratedSamples[0].Video.URI
	}
	if len(r.GeneratedVideos) > 0 {
		return r.GeneratedVideos[0].Video.URI
	}
	return ""
}
