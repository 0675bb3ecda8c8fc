/**
 * @description
 * This file defines the core domain models for the billing-sync-service:
 * contracts and their installments ("cobrancas"), the coarse contract status,
 * and the four-way billing category derived for display.
 *
 * @notes
 * - Amounts are stored as `int64` in centavos, which avoids floating-point
 *   inaccuracies with financial data.
 * - A nil ExternalPaymentID means the installment was never synced with the
 *   upstream payment gateway; those installments are skipped by reconciliation.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContractStatus is the coarse contract-level state, recomputed from the
// contract's installments after every reconciliation pass.
type ContractStatus string

const (
	ContractPending ContractStatus = "pending"
	ContractCurrent ContractStatus = "current"
	ContractOverdue ContractStatus = "overdue"
	ContractPaid    ContractStatus = "paid"
)

// Category is the mutually exclusive business classification shown to
// consumers of the API. The values are the externally visible tokens and
// must not be renamed.
type Category string

const (
	CategoryEmDia        Category = "EM_DIA"
	CategoryEmAtraso     Category = "EM_ATRASO"
	CategoryInadimplente Category = "INADIMPLENTE"
	CategoryPendente     Category = "PENDENTE"
)

// Contract represents a billing contract owning an ordered collection of
// installments. Installment order is creation order, not due-date order.
// This struct maps directly to the `contracts` table in the database.
type Contract struct {
	ID                     uuid.UUID      `json:"id"`
	ClientID               uuid.UUID      `json:"client_id"`
	TotalValue             int64          `json:"total_value"` // in centavos
	DueDate                time.Time      `json:"due_date"`
	Status                 ContractStatus `json:"status"`
	ExternalSubscriptionID *string        `json:"external_subscription_id,omitempty"`
	Installments           []Installment  `json:"installments"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// Installment represents one scheduled payment obligation of a contract.
// This struct maps directly to the `installments` table in the database.
type Installment struct {
	ID                uuid.UUID     `json:"id"`
	ContractID        uuid.UUID     `json:"contract_id"`
	Sequence          int           `json:"sequence"`
	Amount            int64         `json:"amount"` // in centavos
	DueDate           time.Time     `json:"due_date"`
	PaymentDate       *time.Time    `json:"payment_date,omitempty"`
	Status            BillingStatus `json:"status"`
	ExternalPaymentID *string       `json:"external_payment_id,omitempty"`
	InvoiceURL        *string       `json:"invoice_url,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// StartOfDay truncates t to midnight in its own location. All due-date
// comparisons in this service are date-level, never time-of-day level.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// IsLate reports whether the installment counts as late for classification:
// its status signals overdue/dispute, or it is still pending strictly past
// its due date.
func (i Installment) IsLate(today time.Time) bool {
	switch i.Status {
	case BillingOverdue, BillingDunningRequested, BillingChargebackRequested:
		return true
	case BillingPending:
		return StartOfDay(i.DueDate).Before(StartOfDay(today))
	default:
		return false
	}
}

// DueOnOrBefore reports whether the installment's due date is today or
// earlier, date-level.
func (i Installment) DueOnOrBefore(today time.Time) bool {
	return !StartOfDay(i.DueDate).After(StartOfDay(today))
}

// Synced reports whether the installment has ever been linked to an upstream
// payment record.
func (i Installment) Synced() bool {
	return i.ExternalPaymentID != nil && *i.ExternalPaymentID != ""
}

// LateCount returns the number of late installments on the contract.
func (c *Contract) LateCount(today time.Time) int {
	count := 0
	for _, inst := range c.Installments {
		if inst.IsLate(today) {
			count++
		}
	}
	return count
}
