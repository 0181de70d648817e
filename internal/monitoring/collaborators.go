// internal/monitoring/collaborators.go - Pluggable pieces around the check engine
package monitoring

import (
	"context"
	"time"

	"dwmon/internal/config"
	"dwmon/internal/database"
	"dwmon/internal/requirement"
)

const (
	StatusGood = "GOOD"
	StatusBad  = "BAD"
)

// QueryDetails tells a Fetcher what to run and where.
type QueryDetails struct {
	Query  string `json:"query"`
	Source string `json:"source"`
}

// Fetcher returns the current rows for a checker query. Only the unique id
// and timestamp of each row are kept.
type Fetcher interface {
	Fetch(ctx context.Context, query QueryDetails) ([]database.Row, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, query QueryDetails) ([]database.Row, error)

func (f FetcherFunc) Fetch(ctx context.Context, query QueryDetails) ([]database.Row, error) {
	return f(ctx, query)
}

// CheckResult is the outcome of evaluating one checker at one minute.
type CheckResult struct {
	ID              string    `json:"id"`
	CheckerName     string    `json:"checker_name"`
	MinuteEpoch     int64     `json:"minute_epoch"`
	MinuteLocalTime string    `json:"minute_local_time"`
	EventCount      int       `json:"event_count"`
	MinRequired     int       `json:"min_required"`
	MaxAllowed      int       `json:"max_allowed"`
	Status          string    `json:"status"`
	LookbackSeconds int       `json:"lookback_seconds"`
	Requirement     string    `json:"requirement"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Good reports whether the count was within bounds.
func (r CheckResult) Good() bool {
	return r.Status == StatusGood
}

// Handler receives every CheckResult together with the checker's extra
// config.
type Handler interface {
	Handle(ctx context.Context, result CheckResult, extra map[string]any) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, result CheckResult, extra map[string]any) error

func (f HandlerFunc) Handle(ctx context.Context, result CheckResult, extra map[string]any) error {
	return f(ctx, result, extra)
}

// PurgeDecision is a Purger's answer. A nil cutoff means keep everything.
type PurgeDecision struct {
	DeleteOlderThan *int64
}

// Purger decides after each evaluation whether old events can go.
type Purger interface {
	IdentifyOld(ctx context.Context, checker string, extra map[string]any) (PurgeDecision, error)
}

// CheckerLoader discovers checkers and loads their current definitions.
type CheckerLoader interface {
	CheckerNames() ([]string, error)
	LoadChecker(name string) (*config.CheckerConfig, error)
}

// ParsedChecker is a loaded checker with its requirements parsed.
type ParsedChecker struct {
	Config       *config.CheckerConfig
	Requirements []requirement.Requirement
}
