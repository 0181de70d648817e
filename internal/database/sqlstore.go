// internal/database/sqlstore.go - SQLite result store
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	checker   TEXT    NOT NULL,
	unique_id TEXT    NOT NULL,
	timestamp INTEGER NOT NULL,
	UNIQUE (checker, unique_id)
);
CREATE INDEX IF NOT EXISTS idx_results_checker_timestamp ON results (checker, timestamp);

CREATE TABLE IF NOT EXISTS checks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	checker   TEXT    NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_checker_timestamp ON checks (checker, timestamp);
`

// SQLStore keeps results in a SQLite file, mirroring the table layout of
// the original Python tool.
type SQLStore struct {
	db   *sql.DB
	path string
}

func NewSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; sqlite serialises them anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLStore{db: db, path: path}, nil
}

func (s *SQLStore) StoreEvents(ctx context.Context, checker string, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("store events", checker, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO results (checker, unique_id, timestamp) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, storageErr("store events", checker, err)
	}
	defer stmt.Close()

	inserted := 0
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, checker, row.UniqueID, row.Timestamp)
		if err != nil {
			return 0, storageErr("store events", checker, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr("store events", checker, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("store events", checker, err)
	}
	return inserted, nil
}

func (s *SQLStore) CountEvents(ctx context.Context, checker string, from, to int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE checker = ? AND timestamp >= ? AND timestamp <= ?`,
		checker, from, to).Scan(&count)
	if err != nil {
		return 0, storageErr("count events", checker, err)
	}
	return count, nil
}

func (s *SQLStore) LastCheck(ctx context.Context, checker string) (int64, bool, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM checks WHERE checker = ?`, checker).Scan(&last)
	if err != nil {
		return 0, false, storageErr("read last check", checker, err)
	}
	return last.Int64, last.Valid, nil
}

func (s *SQLStore) RecordCheck(ctx context.Context, checker string, minuteEpoch int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (checker, timestamp) VALUES (?, ?)`, checker, minuteEpoch)
	return storageErr("record check", checker, err)
}

func (s *SQLStore) DeleteEventsBefore(ctx context.Context, checker string, epoch int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE checker = ? AND timestamp < ?`, checker, epoch)
	if err != nil {
		return 0, storageErr("delete events", checker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("delete events", checker, err)
	}
	return int(n), nil
}

func (s *SQLStore) GetCheckerStats(ctx context.Context, checker string) (*CheckerStats, error) {
	stats := &CheckerStats{Checker: checker}

	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM results WHERE checker = ?`,
		checker).Scan(&stats.Events, &oldest, &newest)
	if err != nil {
		return nil, storageErr("checker stats", checker, err)
	}
	stats.OldestEvent = nullableInt(oldest)
	stats.NewestEvent = nullableInt(newest)

	var last sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(timestamp) FROM checks WHERE checker = ?`,
		checker).Scan(&stats.Audits, &last)
	if err != nil {
		return nil, storageErr("checker stats", checker, err)
	}
	stats.LastChecked = nullableInt(last)

	return stats, nil
}

func (s *SQLStore) GetRecentChecks(ctx context.Context, checker string, limit int) ([]CheckAudit, error) {
	query := `SELECT timestamp FROM checks WHERE checker = ? ORDER BY timestamp DESC, id DESC`
	args := []any{checker}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("recent checks", checker, err)
	}
	defer rows.Close()

	var audits []CheckAudit
	for rows.Next() {
		audit := CheckAudit{Checker: checker}
		if err := rows.Scan(&audit.MinuteEpoch); err != nil {
			return nil, storageErr("recent checks", checker, err)
		}
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("recent checks", checker, err)
	}
	return audits, nil
}

func (s *SQLStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Backend: "sqlite", CollectedAt: time.Now()}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM results),
			(SELECT COUNT(*) FROM checks),
			(SELECT COUNT(*) FROM (SELECT checker FROM results UNION SELECT checker FROM checks))
	`).Scan(&stats.TotalEvents, &stats.TotalAudits, &stats.Checkers)
	if err != nil {
		return nil, storageErr("database stats", "", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}
	return stats, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
