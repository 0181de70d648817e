// internal/notifications/pushover.go - Pushover delivery for check results
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"dwmon/internal/config"
	"dwmon/internal/monitoring"
)

const (
	PushoverAPIURL = "https://api.pushover.net/1/messages.json"
	UserAgent      = "dwmon/1.0"
)

// PushoverHandler sends a Pushover message for each check result that
// passes the status filter, quiet hours and the per-checker throttle.
type PushoverHandler struct {
	config     *config.PushoverConfig
	httpClient *http.Client
	apiURL     string
	throttler  *Throttler
	now        func() time.Time

	mu        sync.Mutex
	templates map[string]*template.Template
	sent      int
	skipped   int
}

var _ monitoring.Handler = (*PushoverHandler)(nil)

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Retry     int    `json:"retry,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// PushoverOption customizes a PushoverHandler.
type PushoverOption func(*PushoverHandler)

// WithAPIURL points the handler at another endpoint.
func WithAPIURL(url string) PushoverOption {
	return func(h *PushoverHandler) { h.apiURL = url }
}

func WithHTTPClient(client *http.Client) PushoverOption {
	return func(h *PushoverHandler) { h.httpClient = client }
}

func WithClock(now func() time.Time) PushoverOption {
	return func(h *PushoverHandler) { h.now = now }
}

func NewPushoverHandler(cfg *config.PushoverConfig, opts ...PushoverOption) (*PushoverHandler, error) {
	h := &PushoverHandler{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiURL:    PushoverAPIURL,
		now:       time.Now,
		templates: make(map[string]*template.Template),
	}
	for _, opt := range opts {
		opt(h)
	}

	// Parse templates up front so bad config fails at startup
	if _, err := h.template(cfg.Title); err != nil {
		return nil, fmt.Errorf("failed to parse title template: %w", err)
	}
	if _, err := h.template(cfg.Template); err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}
	for _, override := range cfg.Overrides {
		if _, err := h.template(override.Title); err != nil {
			return nil, fmt.Errorf("failed to parse title template of override %s: %w", override.Name, err)
		}
		if _, err := h.template(override.Template); err != nil {
			return nil, fmt.Errorf("failed to parse message template of override %s: %w", override.Name, err)
		}
	}

	if cfg.Throttle.Enabled {
		h.throttler = NewThrottler(cfg.Throttle.PerMinute, cfg.Throttle.Burst)
	}

	logrus.WithFields(logrus.Fields{
		"priority":         cfg.Priority,
		"only_on_status":   cfg.OnlyOnStatus,
		"throttle_enabled": cfg.Throttle.Enabled,
		"overrides":        len(cfg.Overrides),
	}).Info("Pushover handler initialized")

	return h, nil
}

func (h *PushoverHandler) Handle(ctx context.Context, result monitoring.CheckResult, extra map[string]any) error {
	if !config.ShouldNotify(h.config.OnlyOnStatus, result.Status) {
		return nil
	}

	fields := logrus.Fields{
		"checker": result.CheckerName,
		"status":  result.Status,
		"minute":  result.MinuteLocalTime,
	}

	effective := h.config.GetEffectiveConfig(result.CheckerName, result.Status)
	if effective == nil || !effective.Enabled {
		logrus.WithFields(fields).Debug("Pushover disabled for checker")
		return nil
	}
	if effective.IsQuietTime(h.now()) {
		h.skip()
		logrus.WithFields(fields).Debug("Notification suppressed during quiet hours")
		return nil
	}
	if h.throttler != nil && !h.throttler.Allow(result.CheckerName) {
		h.skip()
		logrus.WithFields(fields).Debug("Notification throttled")
		return nil
	}

	message, err := h.buildMessage(result, effective)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	if err := h.send(ctx, message); err != nil {
		return err
	}

	h.mu.Lock()
	h.sent++
	h.mu.Unlock()
	return nil
}

func (h *PushoverHandler) buildMessage(result monitoring.CheckResult, effective *config.EffectivePushoverConfig) (*PushoverMessage, error) {
	title, err := h.render(effective.Title, result)
	if err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}
	body, err := h.render(effective.Template, result)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	message := &PushoverMessage{
		Token:     h.config.APIToken,
		User:      effective.UserKey,
		Title:     title,
		Message:   statusEmoji(result.Status) + " " + body,
		Priority:  effective.Priority,
		Sound:     effective.Sound,
		Device:    effective.Device,
		Timestamp: result.MinuteEpoch,
	}

	// Emergency priority needs retry and expire
	if effective.Priority == 2 {
		message.Retry = h.config.Retry
		message.Expire = h.config.Expire
	}
	return message, nil
}

// template returns the parsed template for text, caching by source text.
func (h *PushoverHandler) template(text string) (*template.Template, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tmpl, ok := h.templates[text]; ok {
		return tmpl, nil
	}
	tmpl, err := template.New("pushover").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	h.templates[text] = tmpl
	return tmpl, nil
}

func (h *PushoverHandler) render(text string, result monitoring.CheckResult) (string, error) {
	tmpl, err := h.template(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, result); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *PushoverHandler) send(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if pushoverResp.Status != 1 {
		return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"title":    message.Title,
		"priority": message.Priority,
		"sound":    message.Sound,
	}).Info("Pushover notification sent successfully")
	return nil
}

// TestNotification sends a plain message with normal priority.
func (h *PushoverHandler) TestNotification(ctx context.Context, text string) error {
	return h.send(ctx, &PushoverMessage{
		Token:   h.config.APIToken,
		User:    h.config.UserKey,
		Title:   "dwmon test notification",
		Message: text,
		Sound:   h.config.Sound,
	})
}

// Stats reports delivery counters and settings.
func (h *PushoverHandler) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := map[string]any{
		"pushover_priority": h.config.Priority,
		"pushover_sound":    h.config.Sound,
		"only_on_status":    h.config.OnlyOnStatus,
		"overrides":         len(h.config.Overrides),
		"sent":              h.sent,
		"skipped":           h.skipped,
		"throttle_enabled":  h.throttler != nil,
	}
	if h.throttler != nil {
		stats["throttle_per_minute"] = h.config.Throttle.PerMinute
		stats["throttle_burst"] = h.config.Throttle.Burst
		stats["throttle_tracked_checkers"] = h.throttler.Len()
	}
	return stats
}

func (h *PushoverHandler) skip() {
	h.mu.Lock()
	h.skipped++
	h.mu.Unlock()
}

func statusEmoji(status string) string {
	if status == monitoring.StatusGood {
		return "✅"
	}
	return "🚨"
}
