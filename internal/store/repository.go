/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the billing-sync-service. By
 * defining an interface, we decouple the reconciliation logic from the
 * PostgreSQL implementation and make it testable with in-memory fakes.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/contratohub/billing-sync-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Contract methods
	GetContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error)
	ListContracts(ctx context.Context, limit, offset int) ([]domain.Contract, error)
	// ListContractsDueForSync returns contracts holding at least one synced
	// installment that is pending, overdue, or due on/before the cutoff.
	ListContractsDueForSync(ctx context.Context, cutoff time.Time, limit int) ([]domain.Contract, error)
	UpdateContractStatus(ctx context.Context, contractID uuid.UUID, status domain.ContractStatus) error

	// Installment methods
	SaveInstallment(ctx context.Context, installment *domain.Installment) error
	LinkInstallmentPayment(ctx context.Context, installmentID uuid.UUID, externalPaymentID string, invoiceURL *string) error
}
