// internal/sources/registry.go - Runs checker queries against configured databases
package sources

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dwmon/internal/config"
	"dwmon/internal/database"
	"dwmon/internal/monitoring"
)

// Registry opens one connection pool per named source on first use and
// serves checker queries from it.
type Registry struct {
	mu      sync.Mutex
	sources map[string]config.SourceConfig
	dbs     map[string]*sql.DB
	open    func(driver, dsn string) (*sql.DB, error)
}

var _ monitoring.Fetcher = (*Registry)(nil)

func NewRegistry(sources map[string]config.SourceConfig) *Registry {
	copied := make(map[string]config.SourceConfig, len(sources))
	for name, src := range sources {
		copied[name] = src
	}
	return &Registry{
		sources: copied,
		dbs:     make(map[string]*sql.DB),
		open:    sql.Open,
	}
}

// Names returns the configured source names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fetch runs the query and returns one row per result row. The unique key
// and timestamp come from the columns named dwmon_unique_key and
// dwmon_timestamp, or from the first two columns when those names are not
// in the result.
func (r *Registry) Fetch(ctx context.Context, query monitoring.QueryDetails) ([]database.Row, error) {
	db, err := r.db(ctx, query.Source)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to query source %s: %w", query.Source, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns from source %s: %w", query.Source, err)
	}
	if len(columns) < 2 {
		return nil, fmt.Errorf("query on source %s returned %d columns, need a unique key and a timestamp", query.Source, len(columns))
	}
	keyIdx, tsIdx := columnIndexes(columns)

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	var out []database.Row
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row from source %s: %w", query.Source, err)
		}
		id, err := toUniqueKey(values[keyIdx])
		if err != nil {
			return nil, fmt.Errorf("bad %s from source %s: %w", config.UniqueKeySentinel, query.Source, err)
		}
		ts, err := toTimestamp(values[tsIdx])
		if err != nil {
			return nil, fmt.Errorf("bad %s for key %s from source %s: %w", config.TimestampSentinel, id, query.Source, err)
		}
		out = append(out, database.Row{UniqueID: id, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows from source %s: %w", query.Source, err)
	}

	logrus.WithFields(logrus.Fields{
		"source":   query.Source,
		"rows":     len(out),
		"duration": time.Since(start),
	}).Debug("Fetched checker rows")
	return out, nil
}

// Ping checks that every configured source is reachable.
func (r *Registry) Ping(ctx context.Context) map[string]error {
	results := make(map[string]error, len(r.sources))
	for _, name := range r.Names() {
		db, err := r.db(ctx, name)
		if err == nil {
			err = db.PingContext(ctx)
		}
		results[name] = err
	}
	return results
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, db := range r.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close source %s: %w", name, err)
		}
		delete(r.dbs, name)
	}
	return firstErr
}

func (r *Registry) db(ctx context.Context, name string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		if len(r.sources) != 1 {
			return nil, fmt.Errorf("checker has no source and %d sources are configured", len(r.sources))
		}
		for only := range r.sources {
			name = only
		}
	}

	if db, ok := r.dbs[name]; ok {
		return db, nil
	}

	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	driver, dsn, err := driverAndDSN(src)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}

	db, err := r.open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", name, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	logrus.WithFields(logrus.Fields{
		"source": name,
		"driver": driver,
	}).Info("Opened source connection pool")

	r.dbs[name] = db
	return db, nil
}

func columnIndexes(columns []string) (int, int) {
	keyIdx, tsIdx := 0, 1
	foundKey, foundTS := false, false
	for i, col := range columns {
		switch strings.ToLower(col) {
		case config.UniqueKeySentinel:
			keyIdx, foundKey = i, true
		case config.TimestampSentinel:
			tsIdx, foundTS = i, true
		}
	}
	if foundKey != foundTS {
		// Only one alias came through; fall back to position for both.
		return 0, 1
	}
	return keyIdx, tsIdx
}

func toUniqueKey(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", fmt.Errorf("null value")
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprint(val), nil
	}
}

// toTimestamp accepts epoch seconds as a number or numeric string, or a
// native time value.
func toTimestamp(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, fmt.Errorf("null value")
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("timestamp %d overflows int64", val)
		}
		return int64(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, fmt.Errorf("not a finite number")
		}
		return int64(math.Floor(val)), nil
	case time.Time:
		return val.Unix(), nil
	case []byte:
		return parseTimestamp(string(val))
	case string:
		return parseTimestamp(val)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(math.Floor(f)), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse %q as a timestamp", s)
}
