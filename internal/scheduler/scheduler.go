// Package scheduler drives periodic reconciliation passes and accepts
// immediate kicks from the webhook path.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"calmirror/internal/engine"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultRunTimeout = 5 * time.Minute
)

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	RunFull(ctx context.Context, opts engine.RunOpts) (engine.Report, error)
}

// Scheduler ticks on a fixed interval and lets the engine's own gate
// decide whether a pass actually runs. Kicks via TriggerNow force a pass
// regardless of the gate.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger

	triggerCh chan struct{}
	stopCh    chan struct{}

	mu      sync.Mutex
	running bool
}

// New creates a scheduler. Non-positive durations fall back to five
// minutes each.
func New(runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
		// Buffer of one coalesces kicks that arrive while a pass is
		// already pending.
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the scheduling loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
}

// Stop halts the scheduling loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

// TriggerNow schedules an immediate forced pass without blocking the
// caller.
func (s *Scheduler) TriggerNow() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial pass on startup; the engine skips it when not due.
	s.run(false)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.run(false)
		case <-s.triggerCh:
			s.run(true)
		}
	}
}

// run performs one bounded pass. Results are logged by the engine; only
// failures surface here.
func (s *Scheduler) run(force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	if _, err := s.runner.RunFull(ctx, engine.RunOpts{Force: force}); err != nil {
		s.logger.Error("scheduled sync failed", "forced", force, "error", err)
	}
}
