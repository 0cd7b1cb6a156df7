package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Veraticus/dompet/internal/common"
)

const defaultHTTPTimeout = 60 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJSON sends body to url and decodes a 200 response into out.
// Rate limits and server errors come back retryable; other failures do not.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &common.RetryableError{Err: fmt.Errorf("%w: request failed: %w", common.ErrOracle, err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &common.RetryableError{Err: fmt.Errorf("%w: failed to read response: %w", common.ErrOracle, err), Retryable: true}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", common.ErrOracle, common.ErrRateLimit, truncate(respBody))
	case resp.StatusCode >= http.StatusInternalServerError:
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: API error (status %d): %s", common.ErrOracle, resp.StatusCode, truncate(respBody)),
			Retryable: true,
		}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: API error (status %d): %s", common.ErrOracle, resp.StatusCode, truncate(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %w", common.ErrOracle, err)
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
