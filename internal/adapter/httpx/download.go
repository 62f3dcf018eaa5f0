package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Download fetches an absolute URL with a bearer token, outside the
// client's BaseURL and rate-limit path. Providers hand out absolute
// download URLs for file content; callers must close the body.
func Download(ctx context.Context, rt http.RoundTripper, rawURL, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 2 * time.Minute, Transport: rt}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: "download failed"}
	}
	return resp.Body, nil
}
