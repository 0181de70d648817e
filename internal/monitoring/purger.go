// internal/monitoring/purger.go - Row purging decisions
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

const (
	RetentionKey        = "retention_seconds"
	PurgeProbabilityKey = "purge_probability"
)

// NoopPurger never deletes anything.
type NoopPurger struct{}

func (NoopPurger) IdentifyOld(ctx context.Context, checker string, extra map[string]any) (PurgeDecision, error) {
	return PurgeDecision{}, nil
}

// RetentionPurger deletes events older than the checker's
// retention_seconds. With purge_probability below 1 it only does so on
// that fraction of evaluations, keeping deletes off the hot path.
type RetentionPurger struct {
	now    func() time.Time
	random func() float64
}

func NewRetentionPurger() *RetentionPurger {
	return &RetentionPurger{now: time.Now, random: rand.Float64}
}

func (p *RetentionPurger) IdentifyOld(ctx context.Context, checker string, extra map[string]any) (PurgeDecision, error) {
	raw, ok := extra[RetentionKey]
	if !ok || raw == nil {
		return PurgeDecision{}, nil
	}
	retention, err := toFloat(raw)
	if err != nil || retention <= 0 {
		return PurgeDecision{}, fmt.Errorf("%s for checker %s must be a positive number, got %v", RetentionKey, checker, raw)
	}

	probability := 1.0
	if rawProb, ok := extra[PurgeProbabilityKey]; ok && rawProb != nil {
		probability, err = toFloat(rawProb)
		if err != nil || probability < 0 || probability > 1 {
			return PurgeDecision{}, fmt.Errorf("%s for checker %s must be between 0 and 1, got %v", PurgeProbabilityKey, checker, rawProb)
		}
	}
	if p.random() >= probability {
		return PurgeDecision{}, nil
	}

	cutoff := p.now().Unix() - int64(retention)
	return PurgeDecision{DeleteOlderThan: &cutoff}, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
