package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"crm-mailroom/internal/engine"
	"crm-mailroom/internal/models"
	"crm-mailroom/internal/repository"
)

// Status is the live scheduler state polled by the status endpoint.
type Status struct {
	Scheduled        bool `json:"scheduled"`
	IntervalSeconds  int  `json:"interval_seconds"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// Scheduler owns the single process-wide repeating timer that drives
// the ingestion engine. It is instantiated once at startup and held by
// the composition root; there is no package-level mutable state.
type Scheduler struct {
	cron            *cron.Cron
	engine          *engine.Engine
	repo            *repository.Repository
	defaultInterval int
	defaultMailbox  string

	mu              sync.Mutex
	entryID         cron.EntryID
	scheduled       bool
	intervalSeconds int

	// inFlight is the single-flight guard between the cron tick and
	// manual triggers; concurrent runs would race one mailbox session.
	inFlight atomic.Bool
}

// New creates a stopped scheduler.
func New(eng *engine.Engine, repo *repository.Repository, defaultInterval int, defaultMailbox string) *Scheduler {
	s := &Scheduler{
		cron:            cron.New(cron.WithSeconds()),
		engine:          eng,
		repo:            repo,
		defaultInterval: defaultInterval,
		defaultMailbox:  defaultMailbox,
	}
	s.cron.Start()
	return s
}

// EnsureRunning reconciles the timer with the stored polling config.
// Idempotent: repeated calls while already scheduled at the same
// interval are no-ops, so opportunistic callers cannot stack timers.
// Transitioning from stopped to scheduled fires an immediate run.
func (s *Scheduler) EnsureRunning() error {
	cfg, err := s.repo.GetPollingConfig(s.defaultInterval, s.defaultMailbox)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	interval := models.ClampInterval(cfg.IntervalSeconds)

	if !cfg.Enabled {
		if s.scheduled {
			s.cron.Remove(s.entryID)
			s.scheduled = false
			logrus.Info("Polling disabled, timer stopped")
		}
		return nil
	}

	if s.scheduled && s.intervalSeconds == interval {
		return nil
	}
	if s.scheduled {
		s.cron.Remove(s.entryID)
		s.scheduled = false
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", interval), s.tick)
	if err != nil {
		return fmt.Errorf("failed to schedule polling: %w", err)
	}
	s.entryID = entryID
	s.scheduled = true
	s.intervalSeconds = interval
	logrus.Infof("Polling scheduled every %d seconds", interval)

	go s.tick()
	return nil
}

// TriggerOnce runs the engine out-of-band, independent of the timer.
// If a run is already in flight the trigger is reported as skipped
// rather than racing the open session.
func (s *Scheduler) TriggerOnce(ctx context.Context) (engine.Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		logrus.Info("Manual trigger skipped: run already in flight")
		return engine.Result{Skipped: true}, nil
	}
	defer s.inFlight.Store(false)

	return s.engine.RunOnce(ctx)
}

// Status reports the configured interval and the time remaining until
// the next tick.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Scheduled:       s.scheduled,
		IntervalSeconds: s.intervalSeconds,
	}
	if s.scheduled {
		next := s.cron.Entry(s.entryID).Next
		if remaining := time.Until(next); remaining > 0 {
			status.RemainingSeconds = int(remaining.Round(time.Second).Seconds())
		}
	}
	return status
}

// Stop halts the timer and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
}

// tick is the timer callback: one engine run with structured outcome
// logging. Failures are logged, never propagated — the timer must not
// crash.
func (s *Scheduler) tick() {
	if !s.inFlight.CompareAndSwap(false, true) {
		logrus.Warn("Tick skipped: previous run still in flight")
		return
	}
	defer s.inFlight.Store(false)

	result, err := s.engine.RunOnce(context.Background())
	entry := logrus.WithFields(logrus.Fields{
		"processed": result.Processed,
		"skipped":   result.Skipped,
	})
	if err != nil {
		entry.Errorf("Polling tick failed: %v", err)
		return
	}
	entry.Debug("Polling tick finished")
}
