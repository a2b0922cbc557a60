package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Upload pushes a payload through the resumable files API and returns the
// file URI to reference from a request. The two-step protocol is: a start
// request that yields a session URL, then a single upload-and-finalize
// request with the bytes.
func (p *Provider) Upload(ctx context.Context, mimeType string, data []byte) (string, error) {
	sessionURL, err := p.startUpload(ctx, mimeType, len(data))
	if err != nil {
		return "", err
	}
	return p.finishUpload(ctx, sessionURL, data)
}

func (p *Provider) startUpload(ctx context.Context, mimeType string, size int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/upload/v1beta/files", nil)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header = p.headers()
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(size))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s upload start: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s upload start: http %d: %s", p.name, resp.StatusCode, string(body))
	}

	sessionURL := resp.Header.Get("x-goog-upload-url")
	if sessionURL == "" {
		return "", fmt.Errorf("%s upload start: no session URL in response", p.name)
	}
	return sessionURL, nil
}

func (p *Provider) finishUpload(ctx context.Context, sessionURL string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header = p.headers()
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-Upload-Offset", "0")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s upload: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s upload: http %d: %s", p.name, resp.StatusCode, string(body))
	}

	var parsed struct {
		File struct {
			URI string `json:"uri"`
		} `json:"file"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.File.URI == "" {
		return "", fmt.Errorf("%s upload: no file URI in response", p.name)
	}
	return parsed.File.URI, nil
}
