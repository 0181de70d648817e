// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dwmon/internal/database"
	"dwmon/internal/metrics"
	"dwmon/internal/requirement"
)

// Engine evaluates checkers: refresh rows, count windows, hand results
// off, audit, purge.
type Engine struct {
	store   database.Store
	loader  CheckerLoader
	fetcher Fetcher
	handler Handler
	purger  Purger
	metrics *metrics.Collector

	location        *time.Location
	fetchTimeout    time.Duration
	isolateFailures bool
	now             func() time.Time

	locks  keyedMutex
	recent *resultRing
}

type EngineOptions struct {
	Location        *time.Location
	FetchTimeout    time.Duration
	IsolateFailures bool
	RecentResults   int
	Metrics         *metrics.Collector
	Now             func() time.Time
}

// CheckError annotates a failure with the checker and the step that failed.
type CheckError struct {
	Checker   string
	Operation string
	Err       error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("checker %s: %s failed: %v", e.Checker, e.Operation, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

func NewEngine(store database.Store, loader CheckerLoader, fetcher Fetcher, handler Handler, purger Purger, opts EngineOptions) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if loader == nil {
		return nil, fmt.Errorf("checker loader is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("row fetcher is required")
	}
	if handler == nil {
		handler = NewLogHandler()
	}
	if purger == nil {
		purger = NoopPurger{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:           store,
		loader:          loader,
		fetcher:         fetcher,
		handler:         handler,
		purger:          purger,
		metrics:         opts.Metrics,
		location:        opts.Location,
		fetchTimeout:    opts.FetchTimeout,
		isolateFailures: opts.IsolateFailures,
		now:             opts.Now,
		recent:          newResultRing(opts.RecentResults),
	}, nil
}

func (e *Engine) CheckerNames() ([]string, error) {
	return e.loader.CheckerNames()
}

func (e *Engine) LoadChecker(name string) (*ParsedChecker, error) {
	cfg, err := e.loader.LoadChecker(name)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reqs, err := cfg.ParseRequirements()
	if err != nil {
		return nil, err
	}
	return &ParsedChecker{Config: cfg, Requirements: reqs}, nil
}

// IsolateFailures reports whether a failing checker lets the rest of the
// pass continue.
func (e *Engine) IsolateFailures() bool {
	return e.isolateFailures
}

func (e *Engine) Location() *time.Location {
	return e.location
}

// CheckChecker runs every requirement of one checker and returns the
// results it produced. Results already handed off and audited stay
// durable when a later step fails.
func (e *Engine) CheckChecker(ctx context.Context, name string) ([]CheckResult, error) {
	unlock := e.locks.Lock(name)
	defer unlock()

	checker, err := e.LoadChecker(name)
	if err != nil {
		logrus.WithError(err).WithField("checker", name).Error("Couldn't parse config for checker")
		e.metrics.RecordError(name, "parse")
		return nil, &CheckError{Checker: name, Operation: "parse", Err: err}
	}

	query := QueryDetails{Query: checker.Config.Query, Source: checker.Config.Source}
	extra := checker.Config.Extra
	if extra == nil {
		extra = map[string]any{}
	}

	var results []CheckResult
	for _, req := range checker.Requirements {
		reqResults, err := e.checkRequirement(ctx, name, query, req, extra)
		results = append(results, reqResults...)
		if err != nil {
			var cerr *CheckError
			op := "check"
			if errors.As(err, &cerr) {
				op = cerr.Operation
			}
			e.metrics.RecordError(name, op)
			return results, err
		}
	}
	return results, nil
}

func (e *Engine) checkRequirement(ctx context.Context, name string, query QueryDetails, req requirement.Requirement, extra map[string]any) ([]CheckResult, error) {
	last, found, err := e.store.LastCheck(ctx, name)
	if err != nil {
		return nil, &CheckError{Checker: name, Operation: "read last check", Err: err}
	}

	minutes := EligibleMinutes(e.now(), req, last, found, e.location)
	if len(minutes) == 0 {
		return nil, nil
	}
	e.metrics.RecordEligible(name, len(minutes))

	logrus.WithFields(logrus.Fields{
		"checker":     name,
		"requirement": req.Text,
		"eligible":    len(minutes),
	}).Debug("Minutes due for evaluation")

	if err := e.refresh(ctx, name, query); err != nil {
		return nil, err
	}

	// Every window is counted before any purge can remove rows from it.
	counted := make([]CheckResult, 0, len(minutes))
	for _, minute := range minutes {
		result, err := SingleCheck(ctx, e.store, name, minute, req, e.location)
		if err != nil {
			return nil, &CheckError{Checker: name, Operation: "count events", Err: err}
		}
		counted = append(counted, result)
	}

	results := make([]CheckResult, 0, len(counted))
	for _, result := range counted {
		if err := e.handler.Handle(ctx, result, extra); err != nil {
			return results, &CheckError{Checker: name, Operation: "handle result", Err: err}
		}

		if err := e.store.RecordCheck(ctx, name, result.MinuteEpoch); err != nil {
			return results, &CheckError{Checker: name, Operation: "record check", Err: err}
		}

		e.record(result)
		results = append(results, result)

		if err := e.purge(ctx, name, extra); err != nil {
			return results, err
		}
	}
	return results, nil
}

// refresh pulls the checker's rows and merges them into the store.
func (e *Engine) refresh(ctx context.Context, name string, query QueryDetails) error {
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	start := time.Now()
	rows, err := e.fetcher.Fetch(fetchCtx, query)
	if err != nil {
		e.metrics.RecordFetch(name, 0, 0, time.Since(start), err)
		return &CheckError{Checker: name, Operation: "fetch rows", Err: err}
	}

	inserted, err := e.store.StoreEvents(ctx, name, rows)
	e.metrics.RecordFetch(name, len(rows), inserted, time.Since(start), err)
	if err != nil {
		return &CheckError{Checker: name, Operation: "store events", Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"checker":  name,
		"fetched":  len(rows),
		"inserted": inserted,
		"duration": time.Since(start),
	}).Debug("Refreshed checker rows")
	return nil
}

func (e *Engine) purge(ctx context.Context, name string, extra map[string]any) error {
	decision, err := e.purger.IdentifyOld(ctx, name, extra)
	if err != nil {
		return &CheckError{Checker: name, Operation: "identify old rows", Err: err}
	}
	if decision.DeleteOlderThan == nil {
		return nil
	}

	logrus.WithField("checker", name).Info("Purging old rows for checker")
	deleted, err := e.store.DeleteEventsBefore(ctx, name, *decision.DeleteOlderThan)
	if err != nil {
		return &CheckError{Checker: name, Operation: "delete old rows", Err: err}
	}
	e.metrics.RecordPurge(name, deleted)
	return nil
}

func (e *Engine) record(result CheckResult) {
	e.recent.Add(result)
	e.metrics.RecordCheckResult(result.CheckerName, result.Status, result.EventCount)

	fields := logrus.Fields{
		"checker":      result.CheckerName,
		"minute_epoch": result.MinuteEpoch,
		"minute_local": result.MinuteLocalTime,
		"event_count":  result.EventCount,
		"min_required": result.MinRequired,
		"max_allowed":  result.MaxAllowed,
		"status":       result.Status,
	}
	if result.Good() {
		logrus.WithFields(fields).Debug("Check completed")
	} else {
		logrus.WithFields(fields).Warn("Check completed")
	}
}

// RecentResults returns up to limit results, newest first. A limit of zero
// returns everything retained.
func (e *Engine) RecentResults(limit int) []CheckResult {
	return e.recent.List(limit)
}

// LatestResult returns the most recent result for a checker.
func (e *Engine) LatestResult(checker string) (CheckResult, bool) {
	return e.recent.Latest(checker)
}

// keyedMutex serialises work per checker name.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// resultRing keeps the last N results plus the latest per checker.
type resultRing struct {
	mu      sync.RWMutex
	size    int
	results []CheckResult
	next    int
	full    bool
	latest  map[string]CheckResult
}

func newResultRing(size int) *resultRing {
	if size < 0 {
		size = 0
	}
	return &resultRing{
		size:    size,
		results: make([]CheckResult, size),
		latest:  make(map[string]CheckResult),
	}
}

func (r *resultRing) Add(result CheckResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.latest[result.CheckerName]; !ok || result.MinuteEpoch >= prev.MinuteEpoch {
		r.latest[result.CheckerName] = result
	}

	if r.size == 0 {
		return
	}
	r.results[r.next] = result
	r.next = (r.next + 1) % r.size
	if r.next == 0 {
		r.full = true
	}
}

func (r *resultRing) List(limit int) []CheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = r.size
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]CheckResult, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.next - 1 - i + r.size) % r.size
		out = append(out, r.results[idx])
	}
	return out
}

func (r *resultRing) Latest(checker string) (CheckResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.latest[checker]
	return result, ok
}
