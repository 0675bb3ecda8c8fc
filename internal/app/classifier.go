/**
 * @description
 * Category classification for contracts. Folds the contract's coarse status
 * and its installments' billing statuses and due dates into one of four
 * mutually exclusive display categories.
 *
 * @notes
 * - The rules are evaluated in a fixed priority order that downstream
 *   consumers depend on. Reordering them changes externally visible
 *   classification, so the order must be preserved exactly.
 */

package app

import (
	"time"

	"github.com/contratohub/billing-sync-service/internal/domain"
)

// Classify computes the contract's display category. It is pure: no I/O, no
// mutation, and deterministic for an unchanged contract.
func Classify(contract *domain.Contract, today time.Time) domain.Category {
	lateCount := contract.LateCount(today)
	hasInstallments := len(contract.Installments) > 0
	day := domain.StartOfDay(today)
	dueInPast := domain.StartOfDay(contract.DueDate).Before(day)

	switch {
	case lateCount >= 2:
		return domain.CategoryInadimplente
	case lateCount == 1:
		return domain.CategoryEmAtraso
	case contract.Status == domain.ContractOverdue && !hasInstallments:
		// Contract-level fallback for contracts never billed individually.
		return domain.CategoryEmAtraso
	case contract.Status == domain.ContractCurrent && dueInPast && !hasInstallments:
		return domain.CategoryEmAtraso
	case contract.Status == domain.ContractPaid:
		return domain.CategoryEmDia
	case hasInstallments && allSettled(contract.Installments):
		return domain.CategoryEmDia
	case hasInstallments && anySettled(contract.Installments):
		// Partial payment still counts as in good standing.
		return domain.CategoryEmDia
	case hasInstallments && allPending(contract.Installments) && !dueInPast:
		return domain.CategoryEmDia
	case contract.Status == domain.ContractCurrent && !dueInPast:
		return domain.CategoryEmDia
	default:
		return domain.CategoryPendente
	}
}

func allSettled(installments []domain.Installment) bool {
	for _, inst := range installments {
		if !inst.Status.Settled() {
			return false
		}
	}
	return true
}

func anySettled(installments []domain.Installment) bool {
	for _, inst := range installments {
		if inst.Status.Settled() {
			return true
		}
	}
	return false
}

func allPending(installments []domain.Installment) bool {
	for _, inst := range installments {
		if inst.Status != domain.BillingPending {
			return false
		}
	}
	return true
}
