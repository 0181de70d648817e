// internal/config/pushover.go - Pushover configuration structures
package config

import (
	"fmt"
	"regexp"
	"time"
)

// PushoverConfig holds global Pushover notification settings
type PushoverConfig struct {
	Enabled      bool               `yaml:"enabled"`
	APIToken     string             `yaml:"api_token"`
	UserKey      string             `yaml:"user_key"`
	Device       string             `yaml:"device,omitempty"`
	Priority     int                `yaml:"priority"` // -2 (silent) to 2 (emergency)
	Retry        int                `yaml:"retry"`    // emergency priority only (seconds)
	Expire       int                `yaml:"expire"`   // emergency priority only (seconds)
	Sound        string             `yaml:"sound,omitempty"`
	Title        string             `yaml:"title,omitempty"`    // text/template
	Template     string             `yaml:"template,omitempty"` // text/template
	OnlyOnStatus []string           `yaml:"only_on_status"`
	Throttle     ThrottleConfig     `yaml:"throttle"`
	QuietHours   *QuietHours        `yaml:"quiet_hours,omitempty"`
	Overrides    []PushoverOverride `yaml:"overrides,omitempty"`
}

// ThrottleConfig limits notifications per checker with a token bucket.
type ThrottleConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

// QuietHours defines when notifications should be suppressed
type QuietHours struct {
	Enabled   bool   `yaml:"enabled"`
	StartHour int    `yaml:"start_hour"` // 0-23
	EndHour   int    `yaml:"end_hour"`   // 0-23
	Timezone  string `yaml:"timezone"`   // IANA timezone, e.g., "America/New_York"
}

// PushoverOverride customizes delivery for matching checkers.
type PushoverOverride struct {
	Name           string   `yaml:"name"`
	Checker        string   `yaml:"checker,omitempty"`
	CheckerPattern string   `yaml:"checker_pattern,omitempty"` // regexp
	Status         []string `yaml:"status,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	UserKey        string   `yaml:"user_key,omitempty"`
	Priority       *int     `yaml:"priority,omitempty"`
	Sound          string   `yaml:"sound,omitempty"`
	Title          string   `yaml:"title,omitempty"`
	Template       string   `yaml:"template,omitempty"`
}

// Validate ensures the Pushover configuration is valid
func (p *PushoverConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.APIToken == "" {
		return fmt.Errorf("notifications.pushover.api_token is required when Pushover is enabled")
	}
	if p.UserKey == "" {
		return fmt.Errorf("notifications.pushover.user_key is required when Pushover is enabled")
	}
	if p.Priority < -2 || p.Priority > 2 {
		return fmt.Errorf("notifications.pushover.priority must be between -2 and 2")
	}

	// Emergency priority requires retry and expire
	if p.Priority == 2 {
		if p.Retry < 30 {
			return fmt.Errorf("notifications.pushover.retry must be at least 30 seconds for emergency priority")
		}
		if p.Expire < 60 || p.Expire > 10800 {
			return fmt.Errorf("notifications.pushover.expire must be between 60 and 10800 seconds for emergency priority")
		}
	}

	if p.Throttle.Enabled && (p.Throttle.PerMinute <= 0 || p.Throttle.Burst < 1) {
		return fmt.Errorf("notifications.pushover.throttle needs a positive per_minute and burst")
	}

	if p.QuietHours != nil && p.QuietHours.Enabled {
		if p.QuietHours.StartHour < 0 || p.QuietHours.StartHour > 23 {
			return fmt.Errorf("quiet hours start_hour must be between 0 and 23")
		}
		if p.QuietHours.EndHour < 0 || p.QuietHours.EndHour > 23 {
			return fmt.Errorf("quiet hours end_hour must be between 0 and 23")
		}
		if p.QuietHours.Timezone == "" {
			p.QuietHours.Timezone = "UTC"
		}
	}

	for _, override := range p.Overrides {
		if override.CheckerPattern == "" {
			continue
		}
		if _, err := regexp.Compile(override.CheckerPattern); err != nil {
			return fmt.Errorf("pushover override '%s' has invalid checker_pattern: %w", override.Name, err)
		}
		if override.Priority != nil && (*override.Priority < -2 || *override.Priority > 2) {
			return fmt.Errorf("pushover override '%s' priority must be between -2 and 2", override.Name)
		}
	}

	return nil
}

// GetEffectiveConfig returns the Pushover settings for one checker result.
func (p *PushoverConfig) GetEffectiveConfig(checker, status string) *EffectivePushoverConfig {
	if !p.Enabled {
		return nil
	}

	effective := &EffectivePushoverConfig{
		Enabled:    p.Enabled,
		UserKey:    p.UserKey,
		Device:     p.Device,
		Priority:   p.Priority,
		Sound:      p.Sound,
		QuietHours: p.QuietHours,
		Title:      p.Title,
		Template:   p.Template,
	}

	// Later overrides take precedence
	for i := range p.Overrides {
		if p.Overrides[i].Matches(checker, status) {
			effective.ApplyOverride(&p.Overrides[i])
		}
	}

	return effective
}

// Matches determines if an override applies to the given checker and status
func (o *PushoverOverride) Matches(checker, status string) bool {
	if len(o.Status) > 0 && !containsFold(o.Status, status) {
		return false
	}
	if o.Checker != "" && o.Checker != checker {
		return false
	}
	if o.CheckerPattern != "" {
		re, err := regexp.Compile(o.CheckerPattern)
		if err != nil || !re.MatchString(checker) {
			return false
		}
	}
	return true
}

// EffectivePushoverConfig represents the final configuration after applying overrides
type EffectivePushoverConfig struct {
	Enabled    bool
	UserKey    string
	Device     string
	Priority   int
	Sound      string
	QuietHours *QuietHours
	Title      string
	Template   string
}

// ApplyOverride applies an override to the effective configuration
func (e *EffectivePushoverConfig) ApplyOverride(override *PushoverOverride) {
	if override.Enabled != nil {
		e.Enabled = *override.Enabled
	}
	if override.UserKey != "" {
		e.UserKey = override.UserKey
	}
	if override.Priority != nil {
		e.Priority = *override.Priority
	}
	if override.Sound != "" {
		e.Sound = override.Sound
	}
	if override.Title != "" {
		e.Title = override.Title
	}
	if override.Template != "" {
		e.Template = override.Template
	}
}

// IsQuietTime checks if now falls within quiet hours
func (e *EffectivePushoverConfig) IsQuietTime(now time.Time) bool {
	if e.QuietHours == nil || !e.QuietHours.Enabled {
		return false
	}

	loc, err := time.LoadLocation(e.QuietHours.Timezone)
	if err != nil {
		loc = time.UTC
	}

	hour := now.In(loc).Hour()
	start := e.QuietHours.StartHour
	end := e.QuietHours.EndHour

	// Handle cases where quiet hours span midnight
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
