/**
 * @description
 * Event payloads published to RabbitMQ when reconciliation observes a change
 * in an installment's billing status.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// InstallmentStatusEvent is published whenever reconciliation transitions an
// installment from one billing status to another.
type InstallmentStatusEvent struct {
	ContractID        uuid.UUID     `json:"contract_id"`
	InstallmentID     uuid.UUID     `json:"installment_id"`
	ExternalPaymentID string        `json:"external_payment_id"`
	PreviousStatus    BillingStatus `json:"previous_status"`
	NewStatus         BillingStatus `json:"new_status"`
	PaymentDate       *time.Time    `json:"payment_date,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at"`
}
