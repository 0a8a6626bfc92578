package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts alert payloads to an arbitrary HTTP endpoint. Delivery is
// retried a fixed number of times with a flat delay; the last error wins.
type Webhook struct {
	URL        string
	Method     string
	Headers    map[string]string
	RetryCount int
	RetryDelay time.Duration
	Client     *http.Client
}

func NewWebhook(url string, headers map[string]string, retryCount int, retryDelay time.Duration) *Webhook {
	if url == "" {
		return nil
	}
	if retryCount < 1 {
		retryCount = 1
	}
	return &Webhook{
		URL:        url,
		Method:     http.MethodPost,
		Headers:    headers,
		RetryCount: retryCount,
		RetryDelay: retryDelay,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, title, text string) error {
	if w == nil || w.URL == "" {
		return fmt.Errorf("webhook disabled")
	}
	body, _ := json.Marshal(map[string]string{
		"title": title,
		"text":  text,
	})

	var lastErr error
	for attempt := 1; attempt <= w.RetryCount; attempt++ {
		req, err := http.NewRequestWithContext(ctx, w.Method, w.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.Client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 400 {
				return nil
			}
			lastErr = fmt.Errorf("webhook status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < w.RetryCount {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.RetryDelay):
			}
		}
	}
	return lastErr
}
