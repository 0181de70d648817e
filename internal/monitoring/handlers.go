// internal/monitoring/handlers.go - Built-in check handlers and routing
package monitoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// HandlersKey in a checker's extra config lists which named handlers
// receive its results.
const HandlersKey = "handlers"

// LogHandler writes every result to the log.
type LogHandler struct {
	logger *logrus.Logger
}

func NewLogHandler() *LogHandler {
	return &LogHandler{logger: logrus.StandardLogger()}
}

func (h *LogHandler) Handle(ctx context.Context, result CheckResult, extra map[string]any) error {
	entry := h.logger.WithFields(logrus.Fields{
		"checker":          result.CheckerName,
		"minute_epoch":     result.MinuteEpoch,
		"minute_local":     result.MinuteLocalTime,
		"event_count":      result.EventCount,
		"min_required":     result.MinRequired,
		"max_allowed":      result.MaxAllowed,
		"lookback_seconds": result.LookbackSeconds,
	})
	if result.Good() {
		entry.Info("Checker is GOOD")
	} else {
		entry.Error("Checker is BAD")
	}
	return nil
}

// NamedHandler pairs a handler with the name checkers use to select it.
type NamedHandler struct {
	Name    string
	Handler Handler
}

// MultiHandler fans a result out to its handlers. A checker whose extra
// config lists handler names only reaches those; otherwise every handler
// is used. Every selected handler runs even when an earlier one fails.
type MultiHandler struct {
	handlers []NamedHandler
}

func NewMultiHandler(handlers ...NamedHandler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Add(name string, handler Handler) {
	m.handlers = append(m.handlers, NamedHandler{Name: name, Handler: handler})
}

func (m *MultiHandler) Names() []string {
	names := make([]string, 0, len(m.handlers))
	for _, h := range m.handlers {
		names = append(names, h.Name)
	}
	return names
}

func (m *MultiHandler) Handle(ctx context.Context, result CheckResult, extra map[string]any) error {
	selected, routed := HandlerNames(extra)

	var errs []error
	for _, h := range m.handlers {
		if routed && !selected[h.Name] {
			continue
		}
		if err := h.Handler.Handle(ctx, result, extra); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", h.Name, err))
		}
	}
	return errors.Join(errs...)
}

// HandlerNames reads the handler routing list from extra config. The
// second result is false when the checker does not restrict handlers.
func HandlerNames(extra map[string]any) (map[string]bool, bool) {
	raw, ok := extra[HandlersKey]
	if !ok || raw == nil {
		return nil, false
	}

	names := make(map[string]bool)
	switch v := raw.(type) {
	case []string:
		for _, name := range v {
			names[name] = true
		}
	case []any:
		for _, item := range v {
			if name, ok := item.(string); ok {
				names[name] = true
			}
		}
	case string:
		names[v] = true
	default:
		return nil, false
	}
	return names, true
}
