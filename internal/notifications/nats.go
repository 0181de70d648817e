// internal/notifications/nats.go - Publishes check results to NATS
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"dwmon/internal/monitoring"
)

// Publisher is the part of a NATS connection the handler needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSHandler publishes every result as JSON on subject.<checker>.
type NATSHandler struct {
	publisher Publisher
	subject   string
	conn      *nats.Conn
}

var _ monitoring.Handler = (*NATSHandler)(nil)

func NewNATSHandler(url, subject string) (*NATSHandler, error) {
	conn, err := nats.Connect(url, nats.Name("dwmon"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"url":     conn.ConnectedUrlRedacted(),
		"subject": subject,
	}).Info("Connected to NATS")

	h := NewNATSPublisherHandler(conn, subject)
	h.conn = conn
	return h, nil
}

// NewNATSPublisherHandler wraps an existing publisher.
func NewNATSPublisherHandler(publisher Publisher, subject string) *NATSHandler {
	return &NATSHandler{publisher: publisher, subject: subject}
}

func (h *NATSHandler) Handle(ctx context.Context, result monitoring.CheckResult, extra map[string]any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal check result: %w", err)
	}
	subject := h.subject + "." + result.CheckerName
	if err := h.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (h *NATSHandler) Close() {
	if h.conn != nil {
		_ = h.conn.Drain()
		h.conn.Close()
	}
}
