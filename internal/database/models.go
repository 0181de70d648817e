// internal/database/models.go
package database

import "time"

// Row is one record returned by a row fetcher: a caller supplied id that is
// unique per checker, and the event time in epoch seconds.
type Row struct {
	UniqueID  string `json:"unique_id"`
	Timestamp int64  `json:"timestamp"`
}

// CheckAudit records that a checker was evaluated as of a minute.
type CheckAudit struct {
	Checker     string `json:"checker"`
	MinuteEpoch int64  `json:"minute_epoch"`
}

type CheckerStats struct {
	Checker     string `json:"checker"`
	Events      int    `json:"events"`
	Audits      int    `json:"audits"`
	OldestEvent *int64 `json:"oldest_event,omitempty"`
	NewestEvent *int64 `json:"newest_event,omitempty"`
	LastChecked *int64 `json:"last_checked,omitempty"`
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
	Backend      string    `json:"backend"`
	Checkers     int       `json:"checkers"`
	TotalEvents  int       `json:"total_events"`
	TotalAudits  int       `json:"total_audits"`
	DatabaseSize int64     `json:"database_size_bytes"`
	CollectedAt  time.Time `json:"collected_at"`
}

// uniqueRows drops rows whose id is already stored or already appeared
// earlier in the same batch. The first occurrence of an id wins.
func uniqueRows(rows []Row, existing func(id string) bool) []Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.UniqueID]; dup {
			continue
		}
		seen[row.UniqueID] = struct{}{}
		if existing(row.UniqueID) {
			continue
		}
		out = append(out, row)
	}
	return out
}
