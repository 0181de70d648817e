package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwmon/internal/config"
	"dwmon/internal/database"
	"dwmon/internal/requirement"
)

const testQuery = "select id as dwmon_unique_key, created as dwmon_timestamp from apps"

// Monday 2024-01-01 10:30:15 UTC. Every five minutes with a 60s lookback
// makes 10:30 and 10:25 due.
var testNow = time.Date(2024, time.January, 1, 10, 30, 15, 0, time.UTC)

var (
	minute1030 = time.Date(2024, time.January, 1, 10, 30, 0, 0, time.UTC).Unix()
	minute1025 = time.Date(2024, time.January, 1, 10, 25, 0, 0, time.UTC).Unix()
)

func everyFiveMinutes(min, max string) string {
	return "CHECKHOURS0-23 CHECKMINUTES*/5 WEEKDAYS WEEKENDS MINNUM" + min + " MAXNUM" + max + " LOOKBACKSECONDS60"
}

func appsChecker(requirements ...string) *config.CheckerConfig {
	return &config.CheckerConfig{
		Name:         "apps",
		Source:       "main",
		Query:        testQuery,
		Requirements: requirements,
		Extra:        map[string]any{},
	}
}

type engineFixture struct {
	store   *memStore
	loader  *fakeLoader
	fetcher *fakeFetcher
	handler *recordingHandler
	purger  *fixedPurger
	engine  *Engine
}

func newEngineFixture(t *testing.T, opts EngineOptions, checkers ...*config.CheckerConfig) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:   newMemStore(),
		loader:  &fakeLoader{checkers: map[string]*config.CheckerConfig{}, errs: map[string]error{}},
		fetcher: &fakeFetcher{},
		handler: &recordingHandler{},
		purger:  &fixedPurger{},
	}
	for _, c := range checkers {
		f.loader.checkers[c.Name] = c
	}

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RecentResults == 0 {
		opts.RecentResults = 10
	}

	engine, err := NewEngine(f.store, f.loader, f.fetcher, f.handler, f.purger, opts)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	store := newMemStore()
	loader := &fakeLoader{}
	fetcher := &fakeFetcher{}

	_, err := NewEngine(nil, loader, fetcher, nil, nil, EngineOptions{})
	assert.Error(t, err)
	_, err = NewEngine(store, nil, fetcher, nil, nil, EngineOptions{})
	assert.Error(t, err)
	_, err = NewEngine(store, loader, nil, nil, nil, EngineOptions{})
	assert.Error(t, err)

	engine, err := NewEngine(store, loader, fetcher, nil, nil, EngineOptions{})
	require.NoError(t, err)
	assert.Equal(t, time.Local, engine.Location())
	assert.False(t, engine.IsolateFailures())
}

func TestCheckCheckerEvaluatesDueMinutes(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("1", "5")))
	f.fetcher.rows = []database.Row{
		{UniqueID: "a", Timestamp: minute1030 - 10},
		{UniqueID: "b", Timestamp: minute1030 - 20},
		{UniqueID: "c", Timestamp: minute1025 - 500},
	}

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.callCount())
	assert.Equal(t, QueryDetails{Query: testQuery, Source: "main"}, f.fetcher.last)

	require.Len(t, results, 2)
	assert.Equal(t, minute1030, results[0].MinuteEpoch)
	assert.Equal(t, 2, results[0].EventCount)
	assert.Equal(t, StatusGood, results[0].Status)
	assert.Equal(t, minute1025, results[1].MinuteEpoch)
	assert.Equal(t, 0, results[1].EventCount)
	assert.Equal(t, StatusBad, results[1].Status)

	assert.Equal(t, []int64{minute1030, minute1025}, f.store.auditsFor("apps"))
	assert.Len(t, f.handler.seen(), 2)
}

func TestCheckCheckerIsIdempotentPerMinute(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("0", "5")))

	_, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	require.Equal(t, 1, f.fetcher.callCount())

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	assert.Empty(t, results)

	// Nothing due means no refresh either.
	assert.Equal(t, 1, f.fetcher.callCount())
	assert.Len(t, f.handler.seen(), 2)
	assert.Len(t, f.store.auditsFor("apps"), 2)
}

func TestCheckCheckerPicksUpNewMinutes(t *testing.T) {
	now := testNow
	f := newEngineFixture(t, EngineOptions{Now: func() time.Time { return now }}, appsChecker(everyFiveMinutes("0", "5")))

	_, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)

	now = testNow.Add(5 * time.Minute)
	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, minute1030+300, results[0].MinuteEpoch)
	assert.Equal(t, 2, f.fetcher.callCount())
}

func TestCheckCheckerNothingDueOutsideHours(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker("CHECKHOURS0-5 CHECKMINUTES0-59 WEEKDAYS WEEKENDS MINNUM0 MAXNUM5 LOOKBACKSECONDS60"))

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, f.fetcher.callCount())
	assert.Empty(t, f.store.auditsFor("apps"))
}

func TestCheckCheckerLaterRequirementsShareAuditFloor(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(
		everyFiveMinutes("0", "5"),
		"CHECKHOURS0-23 CHECKMINUTES0-59 WEEKDAYS WEEKENDS MINNUM0 MAXNUM5 LOOKBACKSECONDS60",
	))

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)

	// The first requirement audits 10:30, which is the newest candidate of
	// the second as well.
	assert.Len(t, results, 2)
	assert.Equal(t, 1, f.fetcher.callCount())
}

func TestCheckCheckerParseFailure(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker("CHECKHOURS9-2 CHECKMINUTES0-59 WEEKDAYS MINNUM0 MAXNUM5 LOOKBACKSECONDS60"))
	f.loader.errs["broken"] = config.ErrCheckerFormat

	_, err := f.engine.CheckChecker(context.Background(), "apps")
	require.Error(t, err)
	assert.True(t, errors.Is(err, requirement.ErrParse))
	assert.True(t, errors.Is(err, requirement.ErrHoursRelationship))

	var cerr *CheckError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "parse", cerr.Operation)
	assert.Equal(t, "apps", cerr.Checker)

	_, err = f.engine.CheckChecker(context.Background(), "broken")
	assert.True(t, errors.Is(err, requirement.ErrParse))

	assert.Zero(t, f.fetcher.callCount())
}

func TestCheckCheckerRejectsQueryWithoutKeys(t *testing.T) {
	checker := appsChecker(everyFiveMinutes("0", "5"))
	checker.Query = "select id, created from apps"
	f := newEngineFixture(t, EngineOptions{}, checker)

	_, err := f.engine.CheckChecker(context.Background(), "apps")
	assert.True(t, errors.Is(err, config.ErrCheckerFormat))
}

func TestCheckCheckerFetchFailure(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("0", "5")))
	f.fetcher.err = errors.New("connection refused")

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.Error(t, err)
	assert.Empty(t, results)

	var cerr *CheckError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "fetch rows", cerr.Operation)
	assert.Empty(t, f.store.auditsFor("apps"))
	assert.Empty(t, f.handler.seen())
}

func TestCheckCheckerStoreFailure(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("0", "5")))
	f.store.failOp = "store events"

	_, err := f.engine.CheckChecker(context.Background(), "apps")
	var cerr *CheckError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "store events", cerr.Operation)

	var serr *database.StorageError
	assert.True(t, errors.As(err, &serr))
}

func TestCheckCheckerHandlerFailureStopsBeforeAudit(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("0", "5")))
	f.handler.failOn = 2

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.Error(t, err)

	var cerr *CheckError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "handle result", cerr.Operation)

	require.Len(t, results, 1)
	assert.Equal(t, []int64{minute1030}, f.store.auditsFor("apps"))

	// Newest first means the failed 10:25 is already below the floor.
	f.handler.failOn = 0
	results, err = f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	assert.Empty(t, results, "10:25 is below the audit floor")
}

func TestCheckCheckerCountsBeforePurging(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("1", "5")))
	// Between the two events, so purging after 10:30 would empty the 10:25 window.
	cutoff := minute1025 - 10
	f.purger.cutoff = &cutoff
	f.fetcher.rows = []database.Row{
		{UniqueID: "old", Timestamp: minute1025 - 30},
		{UniqueID: "new", Timestamp: minute1030 - 30},
	}

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.Equal(t, 1, r.EventCount, "minute %d", r.MinuteEpoch)
		assert.Equal(t, StatusGood, r.Status, "minute %d", r.MinuteEpoch)
	}
	assert.Equal(t, minute1025, results[1].MinuteEpoch)

	assert.Equal(t, 2, f.purger.calls)
	assert.Equal(t, []int64{cutoff, cutoff}, f.store.deletes)

	count, err := f.store.CountEvents(context.Background(), "apps", 0, minute1030)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckCheckerCountFailureSkipsAudit(t *testing.T) {
	f := newEngineFixture(t, EngineOptions{}, appsChecker(everyFiveMinutes("0", "5")))
	f.store.failOp = "count events"

	results, err := f.engine.CheckChecker(context.Background(), "apps")
	require.Error(t, err)
	assert.Empty(t, results)
	assert.Empty(t, f.handler.seen())
	assert.Empty(t, f.store.auditsFor("apps"))
	assert.Zero(t, f.purger.calls)
}

func TestCheckCheckerPassesExtraToHandler(t *testing.T) {
	checker := appsChecker(everyFiveMinutes("0", "5"))
	checker.Extra = map[string]any{"team": "payments"}
	f := newEngineFixture(t, EngineOptions{}, checker)

	var seen []map[string]any
	engine, err := NewEngine(f.store, f.loader, f.fetcher, HandlerFunc(func(ctx context.Context, result CheckResult, extra map[string]any) error {
		seen = append(seen, extra)
		return nil
	}), nil, EngineOptions{Now: func() time.Time { return testNow }, Location: time.UTC})
	require.NoError(t, err)

	_, err = engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "payments", seen[0]["team"])
}

func TestEngineRecentResults(t *testing.T) {
	other := appsChecker(everyFiveMinutes("0", "5"))
	other.Name = "orders"
	f := newEngineFixture(t, EngineOptions{RecentResults: 3}, appsChecker(everyFiveMinutes("0", "5")), other)

	_, err := f.engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	_, err = f.engine.CheckChecker(context.Background(), "orders")
	require.NoError(t, err)

	recent := f.engine.RecentResults(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "orders", recent[0].CheckerName)
	assert.Equal(t, minute1025, recent[0].MinuteEpoch)
	assert.Equal(t, "apps", recent[2].CheckerName)

	assert.Len(t, f.engine.RecentResults(1), 1)

	latest, ok := f.engine.LatestResult("apps")
	require.True(t, ok)
	assert.Equal(t, minute1030, latest.MinuteEpoch)

	_, ok = f.engine.LatestResult("missing")
	assert.False(t, ok)
}

func TestEngineWithBoltStore(t *testing.T) {
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "dwmon.db"))
	require.NoError(t, err)
	defer store.Close()

	loader := &fakeLoader{checkers: map[string]*config.CheckerConfig{"apps": appsChecker(everyFiveMinutes("1", "5"))}}
	fetcher := &fakeFetcher{rows: []database.Row{
		{UniqueID: "a", Timestamp: minute1030 - 10},
		{UniqueID: "a", Timestamp: minute1030 - 10},
		{UniqueID: "b", Timestamp: minute1025},
	}}
	engine, err := NewEngine(store, loader, fetcher, nil, nil, EngineOptions{
		Now:      func() time.Time { return testNow },
		Location: time.UTC,
	})
	require.NoError(t, err)

	results, err := engine.CheckChecker(context.Background(), "apps")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].EventCount)
	assert.Equal(t, 1, results[1].EventCount)

	last, found, err := store.LastCheck(context.Background(), "apps")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, minute1030, last)
}

func TestResultRingWrapsAround(t *testing.T) {
	ring := newResultRing(2)
	for i := int64(1); i <= 3; i++ {
		ring.Add(CheckResult{CheckerName: "apps", MinuteEpoch: i * 60})
	}

	list := ring.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, int64(180), list[0].MinuteEpoch)
	assert.Equal(t, int64(120), list[1].MinuteEpoch)

	// Older minutes do not replace the latest one.
	ring.Add(CheckResult{CheckerName: "apps", MinuteEpoch: 60})
	latest, _ := ring.Latest("apps")
	assert.Equal(t, int64(180), latest.MinuteEpoch)

	empty := newResultRing(0)
	empty.Add(CheckResult{CheckerName: "apps"})
	assert.Empty(t, empty.List(5))
	_, ok := empty.Latest("apps")
	assert.True(t, ok)
}
