// internal/database/store.go
package database

import (
	"context"
	"fmt"
	"strings"
)

// Store is the durable result store: a dedup-merged event log plus the
// evaluation audit log. Implementations must be safe for concurrent use.
type Store interface {
	// StoreEvents merges rows into the checker's events and returns how
	// many were new. Ids already stored, or repeated within rows, are skipped.
	StoreEvents(ctx context.Context, checker string, rows []Row) (int, error)

	// CountEvents counts the checker's events with from <= timestamp <= to.
	CountEvents(ctx context.Context, checker string, from, to int64) (int, error)

	// LastCheck returns the newest audited minute for the checker.
	LastCheck(ctx context.Context, checker string) (int64, bool, error)

	// RecordCheck appends an audit row.
	RecordCheck(ctx context.Context, checker string, minuteEpoch int64) error

	// DeleteEventsBefore removes the checker's events with timestamp < epoch.
	DeleteEventsBefore(ctx context.Context, checker string, epoch int64) (int, error)

	Close() error
}

// ExtendedStore adds the read-only views used by the status API and CLI.
type ExtendedStore interface {
	Store

	GetCheckerStats(ctx context.Context, checker string) (*CheckerStats, error)
	GetRecentChecks(ctx context.Context, checker string, limit int) ([]CheckAudit, error)
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)
}

// Compacter is implemented by backends that can rewrite their file.
type Compacter interface {
	CompactDatabase(ctx context.Context) error
}

// StorageError wraps any failure talking to the result store.
type StorageError struct {
	Op      string
	Checker string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Checker == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s for checker %s: %v", e.Op, e.Checker, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, checker string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Checker: checker, Err: err}
}

// Open creates the store selected by backend ("boltdb" or "sqlite").
func Open(backend, path string) (ExtendedStore, error) {
	switch strings.ToLower(backend) {
	case "", "boltdb", "bolt":
		return NewBoltStore(path)
	case "sqlite", "sqlite3":
		return NewSQLStore(path)
	default:
		return nil, fmt.Errorf("unsupported database type %q", backend)
	}
}
