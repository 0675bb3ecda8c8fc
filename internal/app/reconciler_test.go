package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/contratohub/billing-sync-service/internal/domain"
	"github.com/contratohub/billing-sync-service/pkg/asaasclient"
	"github.com/contratohub/billing-sync-service/pkg/gateway"
)

var reconcilerToday = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type fakeRepo struct {
	savedInstallments []domain.Installment
	contractStatuses  []domain.ContractStatus
	linkedPayments    map[uuid.UUID]string

	failSaveFor       uuid.UUID
	contractStatusErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{linkedPayments: make(map[uuid.UUID]string)}
}

func (r *fakeRepo) GetContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) ListContracts(ctx context.Context, limit, offset int) ([]domain.Contract, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) ListContractsDueForSync(ctx context.Context, cutoff time.Time, limit int) ([]domain.Contract, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) UpdateContractStatus(ctx context.Context, contractID uuid.UUID, status domain.ContractStatus) error {
	if r.contractStatusErr != nil {
		return r.contractStatusErr
	}
	r.contractStatuses = append(r.contractStatuses, status)
	return nil
}

func (r *fakeRepo) SaveInstallment(ctx context.Context, installment *domain.Installment) error {
	if r.failSaveFor != uuid.Nil && installment.ID == r.failSaveFor {
		return errors.New("save failed")
	}
	r.savedInstallments = append(r.savedInstallments, *installment)
	return nil
}

func (r *fakeRepo) LinkInstallmentPayment(ctx context.Context, installmentID uuid.UUID, externalPaymentID string, invoiceURL *string) error {
	r.linkedPayments[installmentID] = externalPaymentID
	return nil
}

type fakePayments struct {
	payments map[string]*asaasclient.Payment
	pages    []asaasclient.PaymentPage

	getCalls  int
	listCalls int
	getErr    error
}

func (p *fakePayments) GetPayment(ctx context.Context, paymentID string) (*asaasclient.Payment, error) {
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	payment, ok := p.payments[paymentID]
	if !ok {
		return nil, asaasclient.ErrPaymentNotFound
	}
	return payment, nil
}

func (p *fakePayments) ListPayments(ctx context.Context, opts asaasclient.ListPaymentsOptions) (*asaasclient.PaymentPage, error) {
	if p.listCalls >= len(p.pages) {
		return &asaasclient.PaymentPage{}, nil
	}
	page := p.pages[p.listCalls]
	p.listCalls++
	return &page, nil
}

type fakeEvents struct {
	published []domain.InstallmentStatusEvent
}

func (e *fakeEvents) PublishInstallmentStatusEvent(ctx context.Context, event domain.InstallmentStatusEvent) error {
	e.published = append(e.published, event)
	return nil
}

func newTestReconciler(repo *fakeRepo, payments *fakePayments, events *fakeEvents) *Reconciler {
	gw := gateway.New(gateway.Config{
		Sleep: func(time.Duration) {},
	})
	var publisher EventPublisher
	if events != nil {
		publisher = events
	}
	r := NewReconciler(repo, gw, payments, publisher, 5*time.Minute, nil)
	r.now = func() time.Time { return reconcilerToday }
	return r
}

func syncedInstallment(status domain.BillingStatus, due time.Time, ref string) domain.Installment {
	return domain.Installment{
		ID:                uuid.New(),
		ContractID:        uuid.New(),
		Status:            status,
		DueDate:           due,
		Amount:            10000,
		ExternalPaymentID: &ref,
	}
}

func TestReconcileAppliesUpstreamStatusChange(t *testing.T) {
	repo := newFakeRepo()
	events := &fakeEvents{}
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{
		"pay_1": {ID: "pay_1", Status: "CONFIRMED", PaymentDate: "2026-03-14 09:00:00"},
	}}
	r := newTestReconciler(repo, payments, events)

	contract := &domain.Contract{
		ID:      uuid.New(),
		Status:  domain.ContractCurrent,
		DueDate: reconcilerToday,
		Installments: []domain.Installment{
			syncedInstallment(domain.BillingPending, reconcilerToday.AddDate(0, 0, -2), "pay_1"),
		},
	}

	mutated, err := r.Reconcile(context.Background(), contract, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mutated {
		t.Fatal("expected mutation")
	}

	inst := contract.Installments[0]
	if inst.Status != domain.BillingReceived {
		t.Fatalf("expected RECEIVED, got %s", inst.Status)
	}
	if inst.PaymentDate == nil || inst.PaymentDate.Format("2006-01-02") != "2026-03-14" {
		t.Fatalf("expected payment date from payload, got %v", inst.PaymentDate)
	}
	if len(repo.savedInstallments) != 1 {
		t.Fatalf("expected one installment save, got %d", len(repo.savedInstallments))
	}
	if len(repo.contractStatuses) != 1 || repo.contractStatuses[0] != domain.ContractPaid {
		t.Fatalf("expected contract status paid, got %v", repo.contractStatuses)
	}
	if len(events.published) != 1 || events.published[0].NewStatus != domain.BillingReceived {
		t.Fatalf("expected one status event, got %+v", events.published)
	}
}

func TestReconcileNeverRequeriesTerminalInstallments(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{}}
	r := newTestReconciler(repo, payments, nil)

	paidOn := reconcilerToday.AddDate(0, 0, -30)
	inst := syncedInstallment(domain.BillingReceived, reconcilerToday.AddDate(0, 0, -31), "pay_done")
	inst.PaymentDate = &paidOn

	contract := &domain.Contract{
		ID:           uuid.New(),
		Status:       domain.ContractPaid,
		DueDate:      reconcilerToday,
		Installments: []domain.Installment{inst},
	}

	if _, err := r.Reconcile(context.Background(), contract, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payments.getCalls != 0 {
		t.Fatalf("terminal installment must not be re-queried, got %d calls", payments.getCalls)
	}
}

func TestReconcileWithoutForceSyncSkipsUpstream(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{
		"pay_1": {ID: "pay_1", Status: "RECEIVED"},
	}}
	r := newTestReconciler(repo, payments, nil)

	contract := &domain.Contract{
		ID:      uuid.New(),
		Status:  domain.ContractCurrent,
		DueDate: reconcilerToday,
		Installments: []domain.Installment{
			syncedInstallment(domain.BillingPending, reconcilerToday.AddDate(0, 0, -2), "pay_1"),
		},
	}

	mutated, err := r.Reconcile(context.Background(), contract, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payments.getCalls != 0 {
		t.Fatalf("expected no upstream calls without forceSync, got %d", payments.getCalls)
	}
	// The coarse status is still recomputed from local state.
	if !mutated || len(repo.contractStatuses) != 1 || repo.contractStatuses[0] != domain.ContractOverdue {
		t.Fatalf("expected local coarse-status recompute to overdue, got %v", repo.contractStatuses)
	}
}

func TestReconcileVanishedPaymentKeepsLocalState(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{}}
	r := newTestReconciler(repo, payments, nil)

	contract := &domain.Contract{
		ID:      uuid.New(),
		Status:  domain.ContractOverdue,
		DueDate: reconcilerToday,
		Installments: []domain.Installment{
			syncedInstallment(domain.BillingOverdue, reconcilerToday.AddDate(0, 0, -2), "pay_gone"),
		},
	}

	mutated, err := r.Reconcile(context.Background(), contract, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mutated {
		t.Fatal("expected no mutation when upstream has no data")
	}
	if payments.getCalls != 1 {
		t.Fatalf("expected one upstream call, got %d", payments.getCalls)
	}
	if contract.Installments[0].Status != domain.BillingOverdue {
		t.Fatalf("local status must be kept, got %s", contract.Installments[0].Status)
	}
	if len(repo.savedInstallments) != 0 {
		t.Fatal("expected no installment writes")
	}
}

func TestReconcileUnchangedStatusWritesNothing(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{
		"pay_1": {ID: "pay_1", Status: "OVERDUE"},
	}}
	r := newTestReconciler(repo, payments, nil)

	contract := &domain.Contract{
		ID:      uuid.New(),
		Status:  domain.ContractOverdue,
		DueDate: reconcilerToday,
		Installments: []domain.Installment{
			syncedInstallment(domain.BillingOverdue, reconcilerToday.AddDate(0, 0, -2), "pay_1"),
		},
	}

	mutated, err := r.Reconcile(context.Background(), contract, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mutated {
		t.Fatal("expected no mutation when nothing changed")
	}
	if len(repo.savedInstallments) != 0 || len(repo.contractStatuses) != 0 {
		t.Fatal("expected zero writes when reconciliation found nothing new")
	}
}

func TestReconcileInstallmentFailureDoesNotAbortSiblings(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{
		"pay_1": {ID: "pay_1", Status: "RECEIVED", PaymentDate: "2026-03-10"},
		"pay_2": {ID: "pay_2", Status: "RECEIVED", PaymentDate: "2026-03-11"},
	}}
	r := newTestReconciler(repo, payments, nil)

	first := syncedInstallment(domain.BillingPending, reconcilerToday.AddDate(0, 0, -2), "pay_1")
	second := syncedInstallment(domain.BillingPending, reconcilerToday.AddDate(0, 0, -2), "pay_2")
	repo.failSaveFor = first.ID

	contract := &domain.Contract{
		ID:           uuid.New(),
		Status:       domain.ContractCurrent,
		DueDate:      reconcilerToday,
		Installments: []domain.Installment{first, second},
	}

	mutated, err := r.Reconcile(context.Background(), contract, true)
	if err != nil {
		t.Fatalf("per-installment failures must not surface: %v", err)
	}
	if !mutated {
		t.Fatal("expected sibling to mutate")
	}
	if contract.Installments[0].Status != domain.BillingPending {
		t.Fatal("failed installment must keep its previous state")
	}
	if contract.Installments[1].Status != domain.BillingReceived {
		t.Fatal("sibling installment must still be updated")
	}
	if len(repo.savedInstallments) != 1 {
		t.Fatalf("expected one persisted installment, got %d", len(repo.savedInstallments))
	}
}

func TestReconcileContractPersistFailureSurfaces(t *testing.T) {
	repo := newFakeRepo()
	repo.contractStatusErr = errors.New("db down")
	payments := &fakePayments{payments: map[string]*asaasclient.Payment{
		"pay_1": {ID: "pay_1", Status: "RECEIVED", PaymentDate: "2026-03-10"},
	}}
	r := newTestReconciler(repo, payments, nil)

	contract := &domain.Contract{
		ID:      uuid.New(),
		Status:  domain.ContractCurrent,
		DueDate: reconcilerToday,
		Installments: []domain.Installment{
			syncedInstallment(domain.BillingPending, reconcilerToday.AddDate(0, 0, -2), "pay_1"),
		},
	}

	if _, err := r.Reconcile(context.Background(), contract, true); err == nil {
		t.Fatal("expected contract persist failure to surface")
	}
}

func TestReconcileThrottledUpstreamServesLocalState(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{getErr: &throttleErr{}}
	r := newTestReconciler(repo, payments, nil)

	contract := &domain.Contract{
		ID:      uuid.New(),
		Status:  domain.ContractOverdue,
		DueDate: reconcilerToday,
		Installments: []domain.Installment{
			syncedInstallment(domain.BillingOverdue, reconcilerToday.AddDate(0, 0, -2), "pay_1"),
		},
	}

	mutated, err := r.Reconcile(context.Background(), contract, true)
	if err != nil {
		t.Fatalf("throttling must degrade to local state, not fail: %v", err)
	}
	if mutated {
		t.Fatal("expected no mutation while throttled")
	}
	if contract.Installments[0].Status != domain.BillingOverdue {
		t.Fatal("local status must be kept while throttled")
	}
}

type throttleErr struct{}

func (e *throttleErr) Error() string   { return "too many requests" }
func (e *throttleErr) HTTPStatus() int { return 429 }

func TestBackfillLinksUnsyncedInstallments(t *testing.T) {
	repo := newFakeRepo()
	invoice := "https://invoices.example/pay_b"
	payments := &fakePayments{pages: []asaasclient.PaymentPage{
		{
			Data: []asaasclient.Payment{
				{ID: "pay_a", Status: "PENDING", Value: 100.00, DueDate: "2026-04-01"},
				{ID: "pay_b", Status: "PENDING", Value: 100.00, DueDate: "2026-05-01", InvoiceURL: &invoice},
			},
			HasMore: false,
		},
	}}
	r := newTestReconciler(repo, payments, nil)

	subscription := "sub_1"
	contract := &domain.Contract{
		ID:                     uuid.New(),
		Status:                 domain.ContractCurrent,
		DueDate:                reconcilerToday,
		ExternalSubscriptionID: &subscription,
		Installments: []domain.Installment{
			{ID: uuid.New(), Status: domain.BillingPending, Amount: 10000, DueDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
			{ID: uuid.New(), Status: domain.BillingPending, Amount: 10000, DueDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	linked, err := r.BackfillPaymentLinks(context.Background(), contract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked != 2 {
		t.Fatalf("expected 2 linked installments, got %d", linked)
	}
	if !contract.Installments[0].Synced() || *contract.Installments[0].ExternalPaymentID != "pay_a" {
		t.Fatalf("expected first installment linked to pay_a, got %v", contract.Installments[0].ExternalPaymentID)
	}
	if contract.Installments[1].InvoiceURL == nil || *contract.Installments[1].InvoiceURL != invoice {
		t.Fatal("expected invoice url carried over on link")
	}
	if len(repo.linkedPayments) != 2 {
		t.Fatalf("expected 2 link persists, got %d", len(repo.linkedPayments))
	}
}

func TestBackfillWithoutSubscriptionIsNoop(t *testing.T) {
	repo := newFakeRepo()
	payments := &fakePayments{}
	r := newTestReconciler(repo, payments, nil)

	contract := &domain.Contract{ID: uuid.New(), Status: domain.ContractCurrent, DueDate: reconcilerToday}
	linked, err := r.BackfillPaymentLinks(context.Background(), contract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if linked != 0 || payments.listCalls != 0 {
		t.Fatalf("expected noop, got linked=%d calls=%d", linked, payments.listCalls)
	}
}
