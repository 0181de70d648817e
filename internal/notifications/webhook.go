// internal/notifications/webhook.go - JSON webhook delivery for check results
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"dwmon/internal/config"
	"dwmon/internal/monitoring"
)

const (
	WebhookEventType     = "dwmon.check"
	WebhookSchemaVersion = "1"

	webhookMaxRetries = 2
)

// WebhookEnvelope is the JSON body POSTed for each result.
type WebhookEnvelope struct {
	Type          string                 `json:"type"`
	SchemaVersion string                 `json:"schema_version"`
	Timestamp     string                 `json:"timestamp"`
	Data          monitoring.CheckResult `json:"data"`
	Extra         map[string]any         `json:"extra,omitempty"`
}

// WebhookHandler posts results to an HTTP endpoint, retrying transient
// failures with a linear backoff.
type WebhookHandler struct {
	url          string
	authToken    string
	onlyOnStatus []string
	httpClient   *http.Client
	backoff      time.Duration
}

var _ monitoring.Handler = (*WebhookHandler)(nil)

func NewWebhookHandler(cfg config.WebhookConfig) (*WebhookHandler, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook URL must use http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("webhook URL must include a host")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookHandler{
		url:          cfg.URL,
		authToken:    cfg.AuthToken,
		onlyOnStatus: cfg.OnlyOnStatus,
		httpClient:   &http.Client{Timeout: timeout},
		backoff:      time.Second,
	}, nil
}

func (w *WebhookHandler) Handle(ctx context.Context, result monitoring.CheckResult, extra map[string]any) error {
	if !config.ShouldNotify(w.onlyOnStatus, result.Status) {
		return nil
	}

	body, err := json.Marshal(WebhookEnvelope{
		Type:          WebhookEventType,
		SchemaVersion: WebhookSchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Data:          result,
		Extra:         extra,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= webhookMaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * w.backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			}
		}

		lastErr = w.post(ctx, body)
		if lastErr == nil {
			logrus.WithFields(logrus.Fields{
				"checker": result.CheckerName,
				"status":  result.Status,
			}).Debug("Webhook delivered")
			return nil
		}

		var we *webhookError
		if errors.As(lastErr, &we) && !we.retryable {
			return lastErr
		}
		logrus.WithError(lastErr).WithField("attempt", attempt+1).Debug("Webhook send transient failure, will retry")
	}
	return fmt.Errorf("webhook send failed after %d attempts: %w", webhookMaxRetries+1, lastErr)
}

func (w *WebhookHandler) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &webhookError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &webhookError{err: err, retryable: true}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &webhookError{
		err:       fmt.Errorf("webhook returned HTTP %d", resp.StatusCode),
		retryable: resp.StatusCode >= 500,
	}
}

type webhookError struct {
	err       error
	retryable bool
}

func (e *webhookError) Error() string { return e.err.Error() }
func (e *webhookError) Unwrap() error { return e.err }
