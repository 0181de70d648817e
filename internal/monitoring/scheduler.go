// internal/monitoring/scheduler.go - Poll loop driving the check engine
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dwmon/internal/metrics"
)

type Scheduler struct {
	engine   *Engine
	interval time.Duration
	workers  int
	metrics  *metrics.Collector

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastPass *PassSummary
}

// CheckerFailure records a checker that errored during a pass.
type CheckerFailure struct {
	Checker string `json:"checker"`
	Error   string `json:"error"`
	err     error
}

func (f CheckerFailure) Err() error {
	return f.err
}

// PassSummary describes one pass over all checkers.
type PassSummary struct {
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	Checkers  int              `json:"checkers"`
	Results   []CheckResult    `json:"results"`
	Failures  []CheckerFailure `json:"failures,omitempty"`
}

func (p *PassSummary) BadCount() int {
	n := 0
	for _, r := range p.Results {
		if !r.Good() {
			n++
		}
	}
	return n
}

func NewScheduler(engine *Engine, interval time.Duration, workers int, collector *metrics.Collector) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if workers < 1 {
		workers = 1
	}
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		workers:  workers,
		metrics:  collector,
	}
}

// Start launches the poll loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	logrus.WithFields(logrus.Fields{
		"interval": s.interval,
		"workers":  s.workers,
	}).Info("Starting scheduler")

	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the current pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	logrus.Info("Stopping scheduler")
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Run performs a pass now and then once per interval until ctx is done.
// Shutdown is only observed between passes.
func (s *Scheduler) Run(ctx context.Context) {
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	summary, err := s.RunPass(context.WithoutCancel(ctx))
	if err != nil {
		logrus.WithError(err).Error("Check pass failed")
	}
	if summary != nil {
		logrus.WithFields(logrus.Fields{
			"checkers": summary.Checkers,
			"results":  len(summary.Results),
			"bad":      summary.BadCount(),
			"failures": len(summary.Failures),
			"duration": summary.Duration,
		}).Info("Check pass completed")
	}
	logrus.Debug("Sleeping...")
}

// RunPass checks every discovered checker once. Without failure isolation
// the first failing checker ends the pass and its error is returned.
func (s *Scheduler) RunPass(ctx context.Context) (*PassSummary, error) {
	summary := &PassSummary{StartedAt: time.Now()}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		s.metrics.RecordPass(summary.Duration)
		s.mu.Lock()
		s.lastPass = summary
		s.mu.Unlock()
	}()

	names, err := s.engine.CheckerNames()
	if err != nil {
		return summary, err
	}
	summary.Checkers = len(names)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, name := range names {
		name := name
		g.Go(func() error {
			// A cancelled group means an earlier checker failed.
			if gctx.Err() != nil {
				return nil
			}

			results, err := s.engine.CheckChecker(ctx, name)

			mu.Lock()
			summary.Results = append(summary.Results, results...)
			if err != nil {
				summary.Failures = append(summary.Failures, CheckerFailure{Checker: name, Error: err.Error(), err: err})
			}
			mu.Unlock()

			if err != nil && !s.engine.IsolateFailures() {
				return err
			}
			return nil
		})
	}

	err = g.Wait()

	if err := s.metrics.UpdateSystemMetrics(ctx); err != nil {
		logrus.WithError(err).Debug("Failed to update store metrics")
	}
	return summary, err
}

// LastPass returns the summary of the most recent pass, if any.
func (s *Scheduler) LastPass() *PassSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPass
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
