// Package webhook provides the webhook action for automatic nodes: an
// outbound HTTP call with bounded retries.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

func NewWebhookActionFactory() *WebhookActionFactory {
	return &WebhookActionFactory{}
}

type WebhookActionFactory struct{}

func (f *WebhookActionFactory) ID() string {
	return "webhook"
}

func (f *WebhookActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewWebhookAction(config)
}

// WebhookAction performs an HTTP request against an external endpoint.
type WebhookAction struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
	Retry   RetryConfig
}

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

func NewWebhookAction(config map[string]any) (*WebhookAction, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("webhook action requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)
	if raw, ok := config["headers"].(map[string]any); ok {
		for key, value := range raw {
			if str, ok := value.(string); ok {
				headers[key] = str
			}
		}
	}

	retry := RetryConfig{Attempts: 1}
	if raw, ok := config["retry"].(map[string]any); ok {
		if attempts, ok := raw["attempts"].(float64); ok && attempts >= 1 {
			retry.Attempts = int(attempts)
		}

		if delay, ok := raw["delay"].(float64); ok {
			retry.Delay = time.Duration(delay * float64(time.Second))
		}
	}

	return &WebhookAction{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: defaultTimeout,
		Retry:   retry,
	}, nil
}

func (a *WebhookAction) Execute(ctx context.Context, instanceContext models.Context, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "webhook_action", "url", a.URL, "method", a.Method)
	logger.InfoContext(ctx, "Executing webhook action")

	var (
		resp    *http.Response
		lastErr error
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying webhook", "attempt", attempt, "max_attempts", a.Retry.Attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.Retry.Delay):
			}
		}

		resp, lastErr = a.doRequest(ctx)
		if lastErr != nil {
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < a.Retry.Attempts {
			resp.Body.Close()

			lastErr = fmt.Errorf("server error (status %d), retrying", resp.StatusCode)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Non-JSON responses are kept as the raw string.
	var body any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		body = string(rawBody)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	logger.InfoContext(ctx, "Webhook completed", "status_code", resp.StatusCode, "body_length", len(rawBody))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}

func (a *WebhookAction) doRequest(ctx context.Context) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if a.Body != "" {
		bodyReader = strings.NewReader(a.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, a.Method, a.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	if a.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	return resp, nil
}
