/**
 * @description
 * Billing-status reconciliation against the upstream payment gateway. For one
 * contract, the reconciler decides which installments are stale enough to
 * warrant a remote refresh, fetches them through the rate-limited gateway,
 * maps the upstream status onto the internal enum, and persists only what
 * changed. A failure on one installment never aborts its siblings: the local
 * record is always the conservative fallback.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and persistence contract.
 * - pkg/gateway: Rate-limited, cached, retrying upstream access.
 * - pkg/asaasclient: Typed payment records and error classification.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contratohub/billing-sync-service/internal/domain"
	"github.com/contratohub/billing-sync-service/internal/store"
	"github.com/contratohub/billing-sync-service/pkg/asaasclient"
	"github.com/contratohub/billing-sync-service/pkg/gateway"
)

// backfillMaxPages bounds how many listing pages one backfill pass will walk.
const backfillMaxPages = 10

// PaymentSource is the slice of the Asaas client the reconciler needs.
type PaymentSource interface {
	GetPayment(ctx context.Context, paymentID string) (*asaasclient.Payment, error)
	ListPayments(ctx context.Context, opts asaasclient.ListPaymentsOptions) (*asaasclient.PaymentPage, error)
}

// EventPublisher publishes installment status-change events. May be backed by
// a no-op when the broker is unavailable.
type EventPublisher interface {
	PublishInstallmentStatusEvent(ctx context.Context, event domain.InstallmentStatusEvent) error
}

// Reconciler keeps a contract's derived billing state consistent with the
// upstream payment gateway.
type Reconciler struct {
	repo     store.Repository
	gateway  *gateway.Gateway
	payments PaymentSource
	events   EventPublisher
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// Per-contract mutual exclusion so concurrent requests for the same
	// contract cannot interleave installment writes.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewReconciler creates a Reconciler. events may be nil when no broker is
// configured.
func NewReconciler(repo store.Repository, gw *gateway.Gateway, payments PaymentSource, events EventPublisher, cacheTTL time.Duration, logger *slog.Logger) *Reconciler {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:     repo,
		gateway:  gw,
		payments: payments,
		events:   events,
		cacheTTL: cacheTTL,
		now:      time.Now,
		logger:   logger,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Reconcile refreshes the contract's installments from the upstream gateway
// and recomputes the contract's coarse status, persisting only on change.
// When forceSync is false (listing and aggregate callers), no upstream calls
// are made: local state is trusted and only the coarse status is recomputed.
// The returned bool reports whether anything was persisted.
func (r *Reconciler) Reconcile(ctx context.Context, contract *domain.Contract, forceSync bool) (bool, error) {
	lock := r.contractLock(contract.ID)
	lock.Lock()
	defer lock.Unlock()

	today := r.now()
	mutated := false

	if forceSync {
		for idx := range contract.Installments {
			inst := &contract.Installments[idx]
			if !inst.Synced() || !refreshEligible(inst, today) {
				continue
			}
			changed, err := r.refreshInstallment(ctx, inst)
			if err != nil {
				// Per-installment failures are recoverable: skip this one,
				// keep its local state, continue with the siblings.
				r.logger.Warn("installment refresh failed, keeping local state",
					"contract_id", contract.ID, "installment_id", inst.ID, "err", err)
				continue
			}
			if changed {
				mutated = true
			}
		}
	}

	newStatus := recomputeContractStatus(contract, today)
	if newStatus != contract.Status {
		if err := r.repo.UpdateContractStatus(ctx, contract.ID, newStatus); err != nil {
			return mutated, fmt.Errorf("persist contract status: %w", err)
		}
		contract.Status = newStatus
		mutated = true
	}

	return mutated, nil
}

// refreshEligible reports whether the installment could plausibly have
// changed upstream since last observed. Terminal statuses are never
// re-checked.
func refreshEligible(inst *domain.Installment, today time.Time) bool {
	if inst.Status.Terminal() {
		return false
	}
	return inst.Status == domain.BillingPending ||
		inst.Status == domain.BillingOverdue ||
		inst.DueOnOrBefore(today)
}

// refreshInstallment fetches the installment's upstream payment record
// through the gateway and applies the mapped status. It returns true when a
// change was persisted.
func (r *Reconciler) refreshInstallment(ctx context.Context, inst *domain.Installment) (bool, error) {
	ref := *inst.ExternalPaymentID

	payment, err := gateway.Execute(ctx, r.gateway, "payment:"+ref, r.cacheTTL,
		func(ctx context.Context) (*asaasclient.Payment, error) {
			p, err := r.payments.GetPayment(ctx, ref)
			if errors.Is(err, asaasclient.ErrPaymentNotFound) {
				// Payment vanished upstream: no data, not a failure.
				return nil, nil
			}
			return p, err
		},
		func() (*asaasclient.Payment, error) { return nil, nil },
	)
	if err != nil {
		return false, err
	}
	if payment == nil {
		// Nothing fresh from upstream; the local record stands.
		return false, nil
	}

	mapped, known := domain.BillingStatusFromGateway(payment.Status)
	if !known {
		r.logger.Warn("unknown upstream payment status, defaulting to pending",
			"payment_id", payment.ID, "status", payment.Status)
	}
	if mapped == inst.Status {
		return false, nil
	}

	updated := *inst
	updated.Status = mapped
	if mapped.Settled() && updated.PaymentDate == nil {
		if paidOn, ok := payment.PaidOn(); ok {
			updated.PaymentDate = &paidOn
		}
	}

	if err := r.repo.SaveInstallment(ctx, &updated); err != nil {
		return false, fmt.Errorf("persist installment: %w", err)
	}

	previous := inst.Status
	*inst = updated
	r.publishStatusChange(ctx, inst, previous)
	return true, nil
}

func (r *Reconciler) publishStatusChange(ctx context.Context, inst *domain.Installment, previous domain.BillingStatus) {
	if r.events == nil {
		return
	}
	event := domain.InstallmentStatusEvent{
		ContractID:        inst.ContractID,
		InstallmentID:     inst.ID,
		ExternalPaymentID: *inst.ExternalPaymentID,
		PreviousStatus:    previous,
		NewStatus:         inst.Status,
		PaymentDate:       inst.PaymentDate,
		OccurredAt:        r.now(),
	}
	if err := r.events.PublishInstallmentStatusEvent(ctx, event); err != nil {
		r.logger.Warn("status change event publish failed", "installment_id", inst.ID, "err", err)
	}
}

// BackfillPaymentLinks links installments that were never synced remotely to
// upstream payment records by walking the contract's subscription listing.
// Payments are matched to unsynced installments by due date and amount.
// Returns the number of installments linked.
func (r *Reconciler) BackfillPaymentLinks(ctx context.Context, contract *domain.Contract) (int, error) {
	if contract.ExternalSubscriptionID == nil || *contract.ExternalSubscriptionID == "" {
		return 0, nil
	}
	subscription := *contract.ExternalSubscriptionID

	linked := 0
	opts := asaasclient.ListPaymentsOptions{Subscription: subscription, Limit: 100}
	for page := 0; page < backfillMaxPages; page++ {
		result, err := gateway.Execute(ctx, r.gateway, opts.CacheKey(), r.cacheTTL,
			func(ctx context.Context) (*asaasclient.PaymentPage, error) {
				return r.payments.ListPayments(ctx, opts)
			},
			func() (*asaasclient.PaymentPage, error) { return nil, nil },
		)
		if err != nil {
			return linked, fmt.Errorf("list subscription payments: %w", err)
		}
		if result == nil {
			return linked, nil
		}

		for i := range result.Data {
			payment := &result.Data[i]
			inst := matchUnsynced(contract, payment)
			if inst == nil {
				continue
			}
			if err := r.repo.LinkInstallmentPayment(ctx, inst.ID, payment.ID, payment.InvoiceURL); err != nil {
				r.logger.Warn("payment link persist failed", "installment_id", inst.ID, "payment_id", payment.ID, "err", err)
				continue
			}
			ref := payment.ID
			inst.ExternalPaymentID = &ref
			inst.InvoiceURL = payment.InvoiceURL
			linked++
		}

		if !result.HasMore {
			break
		}
		opts.Offset += len(result.Data)
	}

	return linked, nil
}

// matchUnsynced finds the first unsynced installment matching the payment's
// due date and amount.
func matchUnsynced(contract *domain.Contract, payment *asaasclient.Payment) *domain.Installment {
	dueDate, err := time.Parse("2006-01-02", payment.DueDate)
	if err != nil {
		return nil
	}
	amount := int64(math.Round(payment.Value * 100))

	for idx := range contract.Installments {
		inst := &contract.Installments[idx]
		if inst.Synced() {
			continue
		}
		if inst.Amount != amount {
			continue
		}
		if domain.StartOfDay(inst.DueDate).Equal(domain.StartOfDay(dueDate)) {
			return inst
		}
	}
	return nil
}

// recomputeContractStatus derives the coarse contract status from the
// installments. Contracts without installments keep their current status.
func recomputeContractStatus(contract *domain.Contract, today time.Time) domain.ContractStatus {
	if len(contract.Installments) == 0 {
		return contract.Status
	}
	if allSettled(contract.Installments) {
		return domain.ContractPaid
	}
	if contract.LateCount(today) > 0 {
		return domain.ContractOverdue
	}
	return domain.ContractCurrent
}

func (r *Reconciler) contractLock(contractID uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[contractID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[contractID] = lock
	}
	return lock
}
