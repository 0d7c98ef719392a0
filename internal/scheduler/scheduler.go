// Package scheduler implements the condition-monitoring scanner and
// worker pool (C4): a ticker scans for ACTIVE strategies due for
// re-evaluation, a bounded queue with a configurable overflow policy
// hands them to a fixed pool of workers, and each worker claims the
// strategy's execution lease before evaluating it so two workers never
// race on the same strategy.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ibx/engine/internal/models"
	"github.com/ibx/engine/internal/modules/metrics"
	"github.com/ibx/engine/internal/orchestrator"
	"github.com/ibx/engine/internal/store"
	"github.com/ibx/engine/internal/submitter"
	"github.com/ibx/engine/pkg/apperr"
	"github.com/ibx/engine/pkg/logger"
)

const (
	QueuePolicyDropOldest     = "drop_oldest"
	QueuePolicyDropSameSymbol = "drop_same_symbol"

	defaultScanLimit = 200
)

type Config struct {
	MonitorInterval time.Duration
	Threads         int
	QueueMaxSize    int
	QueuePolicy     string
	LeaseTTL        time.Duration
}

type Scheduler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
	sub   *submitter.Submitter
	cfg   Config

	queue   chan string
	mu      sync.Mutex
	pending map[string]bool
}

func New(st store.Store, orch *orchestrator.Orchestrator, sub *submitter.Submitter, cfg Config) *Scheduler {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.MonitorInterval
	}
	return &Scheduler{
		store:   st,
		orch:    orch,
		sub:     sub,
		cfg:     cfg,
		queue:   make(chan string, cfg.QueueMaxSize),
		pending: make(map[string]bool),
	}
}

// Start launches the worker pool and the scan ticker. It returns
// immediately; both loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Threads; i++ {
		go s.worker(ctx)
	}
	go s.scanLoop(ctx)
}

func (s *Scheduler) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scheduler) scanOnce(ctx context.Context) {
	due, err := s.store.ListEligibleForScan(ctx, time.Now().UTC(), defaultScanLimit)
	if err != nil {
		logger.Error("scheduler scan failed: %v", err)
		return
	}
	for _, detail := range due {
		s.enqueue(detail.Strategy.ID)
	}
}

// enqueue applies the configured overflow policy, mirroring the
// teacher's confirm-queue dispatch: try a non-blocking send, and on a
// full queue either drop the oldest pending job and retry once
// (drop_oldest), or drop the new one with a warning. drop_same_symbol has
// no handling of its own and takes the drop-the-new-job path.
func (s *Scheduler) enqueue(strategyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[strategyID] {
		return
	}
	select {
	case s.queue <- strategyID:
		s.pending[strategyID] = true
		return
	default:
	}
	switch s.cfg.QueuePolicy {
	case QueuePolicyDropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- strategyID:
			s.pending[strategyID] = true
		default:
		}
	default:
		logger.Warn("scheduler queue full, dropping strategy %s", strategyID)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case strategyID, ok := <-s.queue:
			if !ok {
				return
			}
			s.process(ctx, strategyID)
			s.mu.Lock()
			delete(s.pending, strategyID)
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) process(ctx context.Context, strategyID string) {
	metrics.StrategiesScanned.Inc()
	if _, err := s.store.ClaimLease(ctx, strategyID, s.cfg.LeaseTTL); err != nil {
		if apperr.Is(err, apperr.CodeLeaseHeld) {
			metrics.LeaseContention.Inc()
			return
		}
		logger.Error("claim lease failed for %s: %v", strategyID, err)
		return
	}
	defer func() {
		if err := s.store.ReleaseLease(ctx, strategyID); err != nil {
			logger.Error("release lease failed for %s: %v", strategyID, err)
		}
	}()

	detail, err := s.store.Get(ctx, strategyID)
	if err != nil {
		logger.Error("load strategy %s failed: %v", strategyID, err)
		return
	}
	if detail.Strategy.Status != models.StatusActive {
		return
	}
	now := time.Now().UTC()
	decision, err := s.orch.EvaluateStrategy(ctx, detail, now)
	if err != nil {
		logger.Error("evaluate strategy %s failed: %v", strategyID, err)
		return
	}
	if !decision.ConditionMet {
		return
	}
	metrics.StrategiesTriggered.Inc()
	triggered, err := s.store.Get(ctx, strategyID)
	if err != nil {
		logger.Error("reload triggered strategy %s failed: %v", strategyID, err)
		return
	}
	if err := s.sub.HandleTriggered(ctx, triggered, now); err != nil {
		logger.Error("handle triggered strategy %s failed: %v", strategyID, err)
	}
}
