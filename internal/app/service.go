/**
 * @description
 * This file contains the core application service for the
 * billing-sync-service. It wires the reconciler and classifier behind the
 * operations the API layer exposes: contract detail, contract listing,
 * explicit resync, and gateway diagnostics.
 *
 * @notes
 * - Detail and explicit-sync paths reconcile with forceSync=true; the listing
 *   path passes forceSync=false so a page render never fans out into
 *   per-installment upstream calls.
 * - When the upstream cannot be refreshed the last known local state is
 *   served rather than failing the request.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contratohub/billing-sync-service/internal/domain"
	"github.com/contratohub/billing-sync-service/internal/store"
	"github.com/contratohub/billing-sync-service/pkg/gateway"
)

// ContractView is a contract together with its derived display category.
type ContractView struct {
	Contract *domain.Contract `json:"contract"`
	Category domain.Category  `json:"category"`
}

// Service orchestrates reconciliation and classification for the API layer.
type Service struct {
	repo       store.Repository
	reconciler *Reconciler
	gateway    *gateway.Gateway
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates the application service.
func NewService(repo store.Repository, reconciler *Reconciler, gw *gateway.Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		reconciler: reconciler,
		gateway:    gw,
		now:        time.Now,
		logger:     logger,
	}
}

// ContractDetail loads one contract, reconciles it against the upstream
// gateway, and classifies it.
func (s *Service) ContractDetail(ctx context.Context, contractID uuid.UUID) (*ContractView, error) {
	contract, err := s.repo.GetContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	if _, err := s.reconciler.Reconcile(ctx, contract, true); err != nil {
		return nil, fmt.Errorf("reconcile contract %s: %w", contractID, err)
	}

	return &ContractView{Contract: contract, Category: Classify(contract, s.now())}, nil
}

// ListContracts returns a page of contracts with categories. No upstream
// calls are made on this path; local state is trusted.
func (s *Service) ListContracts(ctx context.Context, limit, offset int) ([]ContractView, error) {
	contracts, err := s.repo.ListContracts(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]ContractView, 0, len(contracts))
	today := s.now()
	for i := range contracts {
		contract := &contracts[i]
		if _, err := s.reconciler.Reconcile(ctx, contract, false); err != nil {
			s.logger.Warn("contract status recompute failed", "contract_id", contract.ID, "err", err)
		}
		views = append(views, ContractView{Contract: contract, Category: Classify(contract, today)})
	}

	return views, nil
}

// SyncContract runs an explicit full resync: backfill missing payment links
// from the subscription listing, then reconcile with forceSync.
func (s *Service) SyncContract(ctx context.Context, contractID uuid.UUID) (*ContractView, error) {
	contract, err := s.repo.GetContractByID(ctx, contractID)
	if err != nil {
		return nil, err
	}

	linked, err := s.reconciler.BackfillPaymentLinks(ctx, contract)
	if err != nil {
		// Backfill is best-effort; reconciliation of already linked
		// installments still proceeds.
		s.logger.Warn("payment link backfill incomplete", "contract_id", contract.ID, "linked", linked, "err", err)
	} else if linked > 0 {
		s.logger.Info("linked upstream payments", "contract_id", contract.ID, "linked", linked)
	}

	if _, err := s.reconciler.Reconcile(ctx, contract, true); err != nil {
		return nil, fmt.Errorf("reconcile contract %s: %w", contractID, err)
	}

	return &ContractView{Contract: contract, Category: Classify(contract, s.now())}, nil
}

// GatewayStats exposes the gateway counters for the diagnostics endpoint.
func (s *Service) GatewayStats() gateway.Stats {
	return s.gateway.Stats()
}
