/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL queries for the contracts and
 * installments tables used by reconciliation.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/contratohub/billing-sync-service/internal/domain"
)

var (
	ErrContractNotFound    = errors.New("contract not found")
	ErrInstallmentNotFound = errors.New("installment not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const contractColumns = `id, client_id, total_value, due_date, status, external_subscription_id, created_at, updated_at`

const installmentColumns = `id, contract_id, sequence, amount, due_date, payment_date, status, external_payment_id, invoice_url, created_at, updated_at`

// GetContractByID loads one contract together with its installments in
// creation order.
func (r *PostgresRepository) GetContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	var contract domain.Contract
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`
	err := r.db.QueryRow(ctx, query, contractID).Scan(
		&contract.ID,
		&contract.ClientID,
		&contract.TotalValue,
		&contract.DueDate,
		&contract.Status,
		&contract.ExternalSubscriptionID,
		&contract.CreatedAt,
		&contract.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContractNotFound
		}
		return nil, err
	}

	installments, err := r.findInstallmentsByContractID(ctx, contract.ID)
	if err != nil {
		return nil, fmt.Errorf("load installments for contract %s: %w", contract.ID, err)
	}
	contract.Installments = installments

	return &contract, nil
}

// ListContracts returns a page of contracts with their installments.
func (r *PostgresRepository) ListContracts(ctx context.Context, limit, offset int) ([]domain.Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + contractColumns + ` FROM contracts ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contracts, err := scanContracts(rows)
	if err != nil {
		return nil, err
	}

	for i := range contracts {
		installments, err := r.findInstallmentsByContractID(ctx, contracts[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load installments for contract %s: %w", contracts[i].ID, err)
		}
		contracts[i].Installments = installments
	}

	return contracts, nil
}

// ListContractsDueForSync returns contracts that have at least one synced
// installment plausibly changed upstream: pending, overdue, or due on/before
// the cutoff. Used by the scheduled reconciliation sweep.
func (r *PostgresRepository) ListContractsDueForSync(ctx context.Context, cutoff time.Time, limit int) ([]domain.Contract, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT DISTINCT c.id, c.client_id, c.total_value, c.due_date, c.status, c.external_subscription_id, c.created_at, c.updated_at
		FROM contracts c
		JOIN installments i ON i.contract_id = c.id
		WHERE i.external_payment_id IS NOT NULL
		  AND (i.status IN ('PENDING', 'OVERDUE') OR i.due_date <= $1)
		ORDER BY c.updated_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contracts, err := scanContracts(rows)
	if err != nil {
		return nil, err
	}

	for i := range contracts {
		installments, err := r.findInstallmentsByContractID(ctx, contracts[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load installments for contract %s: %w", contracts[i].ID, err)
		}
		contracts[i].Installments = installments
	}

	return contracts, nil
}

// UpdateContractStatus persists the contract's recomputed coarse status.
func (r *PostgresRepository) UpdateContractStatus(ctx context.Context, contractID uuid.UUID, status domain.ContractStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE contracts SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, contractID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	return nil
}

// SaveInstallment persists the mutable reconciliation fields of one
// installment: billing status and payment date.
func (r *PostgresRepository) SaveInstallment(ctx context.Context, installment *domain.Installment) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE installments SET status = $1, payment_date = $2, updated_at = NOW() WHERE id = $3`,
		installment.Status, installment.PaymentDate, installment.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstallmentNotFound
	}
	return nil
}

// LinkInstallmentPayment records the upstream payment reference discovered by
// the subscription backfill.
func (r *PostgresRepository) LinkInstallmentPayment(ctx context.Context, installmentID uuid.UUID, externalPaymentID string, invoiceURL *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE installments SET external_payment_id = $1, invoice_url = $2, updated_at = NOW() WHERE id = $3`,
		externalPaymentID, invoiceURL, installmentID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstallmentNotFound
	}
	return nil
}

func (r *PostgresRepository) findInstallmentsByContractID(ctx context.Context, contractID uuid.UUID) ([]domain.Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM installments WHERE contract_id = $1 ORDER BY created_at, sequence`
	rows, err := r.db.Query(ctx, query, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var installments []domain.Installment
	for rows.Next() {
		var inst domain.Installment
		err := rows.Scan(
			&inst.ID,
			&inst.ContractID,
			&inst.Sequence,
			&inst.Amount,
			&inst.DueDate,
			&inst.PaymentDate,
			&inst.Status,
			&inst.ExternalPaymentID,
			&inst.InvoiceURL,
			&inst.CreatedAt,
			&inst.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func scanContracts(rows pgx.Rows) ([]domain.Contract, error) {
	var contracts []domain.Contract
	for rows.Next() {
		var contract domain.Contract
		err := rows.Scan(
			&contract.ID,
			&contract.ClientID,
			&contract.TotalValue,
			&contract.DueDate,
			&contract.Status,
			&contract.ExternalSubscriptionID,
			&contract.CreatedAt,
			&contract.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, contract)
	}
	return contracts, rows.Err()
}
