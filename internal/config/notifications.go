// internal/config/notifications.go - Check handler configuration
package config

import (
	"fmt"
	"strings"
	"time"
)

type NotificationConfig struct {
	Pushover PushoverConfig `yaml:"pushover"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	NATS     NATSConfig     `yaml:"nats"`
}

// WebhookConfig posts every matching check result as JSON.
type WebhookConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	AuthToken    string        `yaml:"auth_token"`
	OnlyOnStatus []string      `yaml:"only_on_status"`
}

// NATSConfig publishes check results on a subject.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

func (n *NotificationConfig) Validate() error {
	if err := n.Pushover.Validate(); err != nil {
		return err
	}

	if n.Webhook.Enabled {
		if !isValidURL(n.Webhook.URL) {
			return fmt.Errorf("notifications.webhook.url must be a valid http(s) URL")
		}
		if n.Webhook.Timeout <= 0 {
			return fmt.Errorf("notifications.webhook.timeout must be positive")
		}
	}

	if n.NATS.Enabled {
		if n.NATS.URL == "" {
			return fmt.Errorf("notifications.nats.url is required when NATS is enabled")
		}
		if n.NATS.Subject == "" {
			return fmt.Errorf("notifications.nats.subject cannot be empty")
		}
	}

	return nil
}

func setNotificationDefaults(n *NotificationConfig) {
	if n.Pushover.Title == "" {
		n.Pushover.Title = "dwmon: {{.CheckerName}} is {{.Status}}"
	}
	if n.Pushover.Template == "" {
		n.Pushover.Template = "{{.EventCount}} events in the {{.LookbackSeconds}}s before {{.MinuteLocalTime}} (expected {{.MinRequired}}-{{.MaxAllowed}})"
	}
	if len(n.Pushover.OnlyOnStatus) == 0 {
		n.Pushover.OnlyOnStatus = []string{"BAD"}
	}
	if n.Pushover.Sound == "" {
		n.Pushover.Sound = "pushover"
	}
	if n.Pushover.Throttle.PerMinute == 0 {
		n.Pushover.Throttle.PerMinute = 1
	}
	if n.Pushover.Throttle.Burst == 0 {
		n.Pushover.Throttle.Burst = 3
	}

	if n.Webhook.Timeout == 0 {
		n.Webhook.Timeout = 10 * time.Second
	}

	if n.NATS.Subject == "" {
		n.NATS.Subject = "dwmon.checks"
	}
}

func mergeNotificationConfig(main *NotificationConfig, partial *NotificationConfig) {
	// Pushover
	if partial.Pushover.APIToken != "" {
		main.Pushover.APIToken = partial.Pushover.APIToken
	}
	if partial.Pushover.UserKey != "" {
		main.Pushover.UserKey = partial.Pushover.UserKey
	}
	if partial.Pushover.Priority != 0 {
		main.Pushover.Priority = partial.Pushover.Priority
	}
	if partial.Pushover.Sound != "" {
		main.Pushover.Sound = partial.Pushover.Sound
	}
	if partial.Pushover.Device != "" {
		main.Pushover.Device = partial.Pushover.Device
	}
	if partial.Pushover.Title != "" {
		main.Pushover.Title = partial.Pushover.Title
	}
	if partial.Pushover.Template != "" {
		main.Pushover.Template = partial.Pushover.Template
	}
	if len(partial.Pushover.OnlyOnStatus) > 0 {
		main.Pushover.OnlyOnStatus = partial.Pushover.OnlyOnStatus
	}
	if partial.Pushover.Throttle.Enabled {
		main.Pushover.Throttle = partial.Pushover.Throttle
	}
	if partial.Pushover.QuietHours != nil {
		main.Pushover.QuietHours = partial.Pushover.QuietHours
	}
	main.Pushover.Overrides = append(main.Pushover.Overrides, partial.Pushover.Overrides...)
	if partial.Pushover.Enabled {
		main.Pushover.Enabled = true
	}

	// Webhook and NATS are replaced wholesale when present
	if partial.Webhook.URL != "" {
		main.Webhook = partial.Webhook
	}
	if partial.NATS.URL != "" {
		main.NATS = partial.NATS
	}
}

// ShouldNotify reports whether status is listed in only. An empty list
// matches every status.
func ShouldNotify(only []string, status string) bool {
	return len(only) == 0 || containsFold(only, status)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// isValidURL checks if a string is a valid URL
func isValidURL(str string) bool {
	return strings.HasPrefix(str, "http://") && len(str) > 7 ||
		strings.HasPrefix(str, "https://") && len(str) > 8
}
