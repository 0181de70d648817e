// internal/web/notification_handlers.go - Web handlers for notifications
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NotificationSettings is the read-only view of notification config.
type NotificationSettings struct {
	Pushover PushoverSettings `json:"pushover"`
	Webhook  WebhookSettings  `json:"webhook"`
	NATS     NATSSettings     `json:"nats"`
}

type PushoverSettings struct {
	Enabled      bool     `json:"enabled"`
	APIToken     string   `json:"api_token"`
	UserKey      string   `json:"user_key"`
	Priority     int      `json:"priority"`
	Sound        string   `json:"sound"`
	Device       string   `json:"device"`
	Title        string   `json:"title"`
	Template     string   `json:"template"`
	OnlyOnStatus []string `json:"only_on_status"`
	Overrides    int      `json:"overrides"`
}

type WebhookSettings struct {
	Enabled      bool     `json:"enabled"`
	URL          string   `json:"url"`
	Timeout      string   `json:"timeout"`
	OnlyOnStatus []string `json:"only_on_status"`
}

type NATSSettings struct {
	Enabled bool   `json:"enabled"`
	Subject string `json:"subject"`
}

// TestNotificationRequest represents a test notification request
type TestNotificationRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) setupNotificationRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		notifications.GET("/settings", s.getNotificationSettings)
		notifications.GET("/stats", s.getNotificationStats)
		notifications.POST("/test", s.sendTestNotification)
	}
}

// GET /api/notifications/settings - Get current notification settings
func (s *Server) getNotificationSettings(c *gin.Context) {
	cfg := s.config.Notifications

	settings := NotificationSettings{
		Pushover: PushoverSettings{
			Enabled:      cfg.Pushover.Enabled,
			APIToken:     maskToken(cfg.Pushover.APIToken),
			UserKey:      maskToken(cfg.Pushover.UserKey),
			Priority:     cfg.Pushover.Priority,
			Sound:        cfg.Pushover.Sound,
			Device:       cfg.Pushover.Device,
			Title:        cfg.Pushover.Title,
			Template:     cfg.Pushover.Template,
			OnlyOnStatus: cfg.Pushover.OnlyOnStatus,
			Overrides:    len(cfg.Pushover.Overrides),
		},
		Webhook: WebhookSettings{
			Enabled:      cfg.Webhook.Enabled,
			URL:          cfg.Webhook.URL,
			Timeout:      cfg.Webhook.Timeout.String(),
			OnlyOnStatus: cfg.Webhook.OnlyOnStatus,
		},
		NATS: NATSSettings{
			Enabled: cfg.NATS.Enabled,
			Subject: cfg.NATS.Subject,
		},
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

// GET /api/notifications/stats
func (s *Server) getNotificationStats(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"pushover_enabled": false}})
		return
	}

	stats := s.notifier.Stats()
	stats["pushover_enabled"] = true
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// POST /api/notifications/test - Send a test notification
func (s *Server) sendTestNotification(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pushover notifications are not enabled"})
		return
	}

	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.notifier.TestNotification(ctx, req.Message); err != nil {
		logrus.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Test notification sent successfully",
		"timestamp": time.Now(),
	})
}

// maskToken keeps the last four characters of a secret.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
