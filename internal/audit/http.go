package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPSink POSTs events as JSON to an endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	attempts uint64
	delay    time.Duration
}

// NewHTTPSink creates a sink for endpoint.
func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 2,
		delay:    time.Second,
	}
}

func (s *HTTPSink) Name() string { return "http" }

// Write posts evt, retrying failed attempts with exponential backoff.
func (s *HTTPSink) Write(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	attempt := 0
	b := retry.WithMaxRetries(s.attempts, retry.NewExponential(s.delay))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := s.post(ctx, body); err != nil {
			log.Printf("[audit] attempt %d/%d failed: %v", attempt, s.attempts+1, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("all %d attempts failed: %w", attempt, err)
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

func (s *HTTPSink) Close() error {
	return nil
}
