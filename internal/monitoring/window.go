// internal/monitoring/window.go - Single window count against thresholds
package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dwmon/internal/database"
	"dwmon/internal/requirement"
)

// SingleCheck counts the checker's events in [minute-lookback, minute]
// and compares the count to the requirement's bounds. Timestamps in the
// result are rendered in loc.
func SingleCheck(ctx context.Context, store database.Store, checker string, minute int64, req requirement.Requirement, loc *time.Location) (CheckResult, error) {
	if loc == nil {
		loc = time.Local
	}

	count, err := store.CountEvents(ctx, checker, minute-int64(req.LookbackSeconds), minute)
	if err != nil {
		return CheckResult{}, err
	}

	status := StatusGood
	if count < req.MinNum || count > req.MaxNum {
		status = StatusBad
	}

	return CheckResult{
		ID:              uuid.New().String(),
		CheckerName:     checker,
		MinuteEpoch:     minute,
		MinuteLocalTime: time.Unix(minute, 0).In(loc).Format("2006-01-02 15:04:05"),
		EventCount:      count,
		MinRequired:     req.MinNum,
		MaxAllowed:      req.MaxNum,
		Status:          status,
		LookbackSeconds: req.LookbackSeconds,
		Requirement:     req.Text,
		CheckedAt:       time.Now(),
	}, nil
}
