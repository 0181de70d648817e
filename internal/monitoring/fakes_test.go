package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"dwmon/internal/config"
	"dwmon/internal/database"
)

// memStore is an in-memory database.Store.
type memStore struct {
	mu      sync.Mutex
	events  map[string]map[string]int64
	audits  map[string][]int64
	deletes []int64
	failOp  string
}

func newMemStore() *memStore {
	return &memStore{
		events: make(map[string]map[string]int64),
		audits: make(map[string][]int64),
	}
}

func (s *memStore) fail(op, checker string) error {
	if s.failOp == op {
		return &database.StorageError{Op: op, Checker: checker, Err: errors.New("disk on fire")}
	}
	return nil
}

func (s *memStore) StoreEvents(ctx context.Context, checker string, rows []database.Row) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("store events", checker); err != nil {
		return 0, err
	}
	if s.events[checker] == nil {
		s.events[checker] = make(map[string]int64)
	}
	inserted := 0
	for _, row := range rows {
		if _, ok := s.events[checker][row.UniqueID]; ok {
			continue
		}
		s.events[checker][row.UniqueID] = row.Timestamp
		inserted++
	}
	return inserted, nil
}

func (s *memStore) CountEvents(ctx context.Context, checker string, from, to int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("count events", checker); err != nil {
		return 0, err
	}
	count := 0
	for _, ts := range s.events[checker] {
		if ts >= from && ts <= to {
			count++
		}
	}
	return count, nil
}

func (s *memStore) LastCheck(ctx context.Context, checker string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	audits := s.audits[checker]
	if len(audits) == 0 {
		return 0, false, nil
	}
	last := audits[0]
	for _, a := range audits {
		if a > last {
			last = a
		}
	}
	return last, true, nil
}

func (s *memStore) RecordCheck(ctx context.Context, checker string, minute int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("record check", checker); err != nil {
		return err
	}
	s.audits[checker] = append(s.audits[checker], minute)
	return nil
}

func (s *memStore) DeleteEventsBefore(ctx context.Context, checker string, epoch int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, epoch)
	deleted := 0
	for id, ts := range s.events[checker] {
		if ts < epoch {
			delete(s.events[checker], id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) auditsFor(checker string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.audits[checker]...)
}

// fakeLoader serves checker configs from memory.
type fakeLoader struct {
	checkers map[string]*config.CheckerConfig
	errs     map[string]error
}

func (l *fakeLoader) CheckerNames() ([]string, error) {
	var names []string
	for name := range l.checkers {
		names = append(names, name)
	}
	for name := range l.errs {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, config.ErrNoCheckers
	}
	sort.Strings(names)
	return names, nil
}

func (l *fakeLoader) LoadChecker(name string) (*config.CheckerConfig, error) {
	if err, ok := l.errs[name]; ok {
		return nil, err
	}
	checker, ok := l.checkers[name]
	if !ok {
		return nil, fmt.Errorf("unknown checker %s", name)
	}
	copied := *checker
	return &copied, nil
}

// fakeFetcher returns fixed rows and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	rows  []database.Row
	err   error
	calls int
	last  QueryDetails
}

func (f *fakeFetcher) Fetch(ctx context.Context, query QueryDetails) ([]database.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = query
	return f.rows, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingHandler keeps every result it sees.
type recordingHandler struct {
	mu      sync.Mutex
	results []CheckResult
	failOn  int
}

func (h *recordingHandler) Handle(ctx context.Context, result CheckResult, extra map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, result)
	if h.failOn > 0 && len(h.results) == h.failOn {
		return errors.New("pager unreachable")
	}
	return nil
}

func (h *recordingHandler) seen() []CheckResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]CheckResult(nil), h.results...)
}

// fixedPurger always answers with the same cutoff.
type fixedPurger struct {
	cutoff *int64
	calls  int
}

func (p *fixedPurger) IdentifyOld(ctx context.Context, checker string, extra map[string]any) (PurgeDecision, error) {
	p.calls++
	return PurgeDecision{DeleteOlderThan: p.cutoff}, nil
}
