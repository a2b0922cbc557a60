package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/felipepmaragno/llm-council/internal/domain"
	"github.com/felipepmaragno/llm-council/internal/httputil"
)

type videoJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateVideo submits a video job and polls it to a terminal state,
// returning the finished video as an inline data URL.
func (p *Provider) GenerateVideo(ctx context.Context, req domain.VideoRequest) (*domain.VideoResponse, error) {
	job, err := p.submitVideo(ctx, req)
	if err != nil {
		return nil, err
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

		var polled videoJob
		if _, err := httputil.SendJSON(ctx, p.client, http.MethodGet, p.baseURL+"/videos/"+job.ID, p.headers(), nil, &polled, p.retry); err != nil {
			return nil, fmt.Errorf("%s video poll: %w", p.name, err)
		}

		switch polled.Status {
		case "completed":
			return p.fetchVideo(ctx, job.ID)
		case "failed":
			msg := "unknown failure"
			if polled.Error != nil {
				msg = polled.Error.Message
			}
			return nil, fmt.Errorf("%s video job %s failed: %s", p.name, job.ID, msg)
		}
	}

	return nil, fmt.Errorf("%s video job %s: %w", p.name, job.ID, domain.ErrPollTimeout)
}

func (p *Provider) submitVideo(ctx context.Context, req domain.VideoRequest) (*videoJob, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":   req.Model,
		"prompt":  req.Prompt,
		"size":    req.Size,
		"seconds": req.Seconds,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	h := p.headers()
	h.Set("Content-Type", form.FormDataContentType())
	resp, err := httputil.Do(ctx, p.client, http.MethodPost, p.baseURL+"/videos", h, buf.Bytes(), p.retry)
	if err != nil {
		return nil, fmt.Errorf("%s video submit: %w", p.name, err)
	}

	var job videoJob
	if err := json.Unmarshal(resp.Body, &job); err != nil {
		return nil, fmt.Errorf("decode video job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("%s video submit: no job id in response", p.name)
	}
	return &job, nil
}

func (p *Provider) fetchVideo(ctx context.Context, id string) (*domain.VideoResponse, error) {
	resp, err := httputil.Do(ctx, p.client, http.MethodGet, p.baseURL+"/videos/"+id+"/content", p.headers(), nil, p.retry)
	if err != nil {
		return nil, fmt.Errorf("%s video content: %w", p.name, err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "video/mp4"
	}
	return &domain.VideoResponse{
		DataURL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(resp.Body),
	}, nil
}
