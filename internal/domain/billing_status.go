/**
 * @description
 * This file defines the internal BillingStatus enum for installments and the
 * mapping from the upstream payment gateway's status vocabulary onto it.
 *
 * @notes
 * - The upstream vocabulary is richer than, and not 1:1 with, the internal
 *   model (e.g. CONFIRMED and RECEIVED_IN_CASH both mean "money received"
 *   internally). Collapsing here keeps downstream logic simple and total.
 */

package domain

import "strings"

// BillingStatus is the settlement state of a single installment. Exactly one
// value applies to an installment at any time.
type BillingStatus string

const (
	BillingPending                    BillingStatus = "PENDING"
	BillingOverdue                    BillingStatus = "OVERDUE"
	BillingReceived                   BillingStatus = "RECEIVED"
	BillingReceivedInCashUndone       BillingStatus = "RECEIVED_IN_CASH_UNDONE"
	BillingRefunded                   BillingStatus = "REFUNDED"
	BillingChargebackRequested        BillingStatus = "CHARGEBACK_REQUESTED"
	BillingChargebackDispute          BillingStatus = "CHARGEBACK_DISPUTE"
	BillingAwaitingChargebackReversal BillingStatus = "AWAITING_CHARGEBACK_REVERSAL"
	BillingDunningRequested           BillingStatus = "DUNNING_REQUESTED"
	BillingDunningReceived            BillingStatus = "DUNNING_RECEIVED"
	BillingAwaitingRiskAnalysis       BillingStatus = "AWAITING_RISK_ANALYSIS"
)

// gatewayStatusTable collapses the upstream gateway's status tokens into the
// internal enum. Synonyms map to one internal value.
var gatewayStatusTable = map[string]BillingStatus{
	"RECEIVED":                     BillingReceived,
	"CONFIRMED":                    BillingReceived,
	"RECEIVED_IN_CASH":             BillingReceived,
	"DUNNING_RECEIVED":             BillingDunningReceived,
	"PENDING":                      BillingPending,
	"AWAITING_RISK_ANALYSIS":       BillingAwaitingRiskAnalysis,
	"OVERDUE":                      BillingOverdue,
	"DUNNING_REQUESTED":            BillingDunningRequested,
	"REFUNDED":                     BillingRefunded,
	"REFUND_REQUESTED":             BillingRefunded,
	"REFUND_IN_PROGRESS":           BillingRefunded,
	"CHARGEBACK_REQUESTED":         BillingChargebackRequested,
	"CHARGEBACK_DISPUTE":           BillingChargebackDispute,
	"AWAITING_CHARGEBACK_REVERSAL": BillingAwaitingChargebackReversal,
	"RECEIVED_IN_CASH_UNDONE":      BillingReceivedInCashUndone,
}

// BillingStatusFromGateway maps an upstream status token to the internal
// BillingStatus. It is total over all string inputs: the token is matched
// case-insensitively, empty input means Pending, and unrecognized tokens
// degrade to Pending with known=false so the caller can log them.
func BillingStatusFromGateway(status string) (mapped BillingStatus, known bool) {
	token := strings.ToUpper(strings.TrimSpace(status))
	if token == "" {
		return BillingPending, true
	}
	if mapped, ok := gatewayStatusTable[token]; ok {
		return mapped, true
	}
	return BillingPending, false
}

// Settled reports whether the status means money has been received.
func (s BillingStatus) Settled() bool {
	switch s {
	case BillingReceived, BillingReceivedInCashUndone, BillingDunningReceived:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status can no longer change upstream, so the
// installment is never re-queried.
func (s BillingStatus) Terminal() bool {
	return s.Settled() || s == BillingRefunded
}
