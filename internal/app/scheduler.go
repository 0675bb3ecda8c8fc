/**
 * @description
 * Cron scheduler for the off-request maintenance jobs: the reconciliation
 * sweep over contracts with due or overdue installments, and the purge of
 * expired gateway cache entries.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/contratohub/billing-sync-service/internal/store"
	"github.com/contratohub/billing-sync-service/pkg/gateway"
)

// SchedulerConfig carries the cron expressions and bounds for the jobs.
type SchedulerConfig struct {
	SweepSchedule      string
	SweepContractLimit int
	CachePurgeSchedule string
	CacheTTL           time.Duration
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	repo       store.Repository
	reconciler *Reconciler
	gateway    *gateway.Gateway
	config     SchedulerConfig
	logger     *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(repo store.Repository, reconciler *Reconciler, gw *gateway.Gateway, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:       c,
		repo:       repo,
		reconciler: reconciler,
		gateway:    gw,
		config:     cfg,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.SweepDueContracts); err != nil {
		s.logger.Error("failed to schedule reconciliation sweep", "error", err)
	} else {
		s.logger.Info("scheduled reconciliation sweep", "schedule", s.config.SweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.CachePurgeSchedule, s.PurgeExpiredCache); err != nil {
		s.logger.Error("failed to schedule cache purge", "error", err)
	} else {
		s.logger.Info("scheduled cache purge", "schedule", s.config.CachePurgeSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepDueContracts reconciles contracts whose installments are plausibly
// stale, off the request path. One contract failing never stops the sweep.
func (s *Scheduler) SweepDueContracts() {
	s.logger.Info("starting reconciliation sweep")
	ctx := context.Background()

	contracts, err := s.repo.ListContractsDueForSync(ctx, time.Now(), s.config.SweepContractLimit)
	if err != nil {
		s.logger.Error("failed to list contracts for sweep", "error", err)
		return
	}

	synced := 0
	for i := range contracts {
		contract := &contracts[i]
		mutated, err := s.reconciler.Reconcile(ctx, contract, true)
		if err != nil {
			s.logger.Warn("sweep reconcile failed", "contract_id", contract.ID, "error", err)
			continue
		}
		if mutated {
			synced++
		}
	}

	s.logger.Info("reconciliation sweep finished", "contracts", len(contracts), "mutated", synced)
}

// PurgeExpiredCache sweeps expired entries out of the gateway cache.
func (s *Scheduler) PurgeExpiredCache() {
	removed := s.gateway.Cache().RemoveExpired(s.config.CacheTTL)
	if removed > 0 {
		s.logger.Info("purged expired gateway cache entries", "removed", removed)
	}
}
