package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/models"
	"github.com/quickgig/backend/internal/notify"
	"github.com/quickgig/backend/internal/processor"
	"github.com/quickgig/backend/internal/resilience"
)

// ---------------------------------------------------------------------------
// Stubs: a scriptable processor and an in-memory payment store.
// ---------------------------------------------------------------------------

type stubProcessor struct {
	mu          sync.Mutex
	createFn    func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error)
	confirmFn   func(id string) (*processor.PaymentIntent, error)
	refundFn    func(intentID string, amountCents int64) (*processor.Refund, error)
	createCalls int
	refundCalls int
}

func (s *stubProcessor) CreatePaymentIntent(_ context.Context, req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
	s.mu.Lock()
	s.createCalls++
	s.mu.Unlock()
	return s.createFn(req)
}

func (s *stubProcessor) ConfirmPaymentIntent(_ context.Context, id string) (*processor.PaymentIntent, error) {
	return s.confirmFn(id)
}

func (s *stubProcessor) CreateRefund(_ context.Context, intentID string, amountCents int64) (*processor.Refund, error) {
	s.mu.Lock()
	s.refundCalls++
	s.mu.Unlock()
	return s.refundFn(intentID, amountCents)
}

func (s *stubProcessor) RetrievePaymentIntent(context.Context, string) (*processor.PaymentIntent, error) {
	return nil, errors.New("not scripted")
}

func (s *stubProcessor) CreateTransfer(context.Context, processor.TransferRequest) (*processor.Transfer, error) {
	return nil, errors.New("not scripted")
}

func (s *stubProcessor) RetrieveAccount(context.Context, string) (*processor.Account, error) {
	return nil, errors.New("not scripted")
}

type memPaymentRepo struct {
	mu               sync.Mutex
	records          map[uuid.UUID]*models.PaymentRecord
	refunds          []*models.RefundRecord
	cancelledJobs    []uuid.UUID
	completedRefunds map[uuid.UUID]int64
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{
		records:          make(map[uuid.UUID]*models.PaymentRecord),
		completedRefunds: make(map[uuid.UUID]int64),
	}
}

func (m *memPaymentRepo) CreatePaymentRecord(_ context.Context, p *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.records[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) GetPaymentRecord(_ context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) UpdatePaymentStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].Status = status
	return nil
}

func (m *memPaymentRepo) SumCompletedRefunds(_ context.Context, paymentRecordID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completedRefunds[paymentRecordID], nil
}

func (m *memPaymentRepo) CreateRefundRecord(_ context.Context, r *models.RefundRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.refunds = append(m.refunds, &cp)
	m.completedRefunds[r.PaymentRecordID] += r.AmountCents
	return nil
}

func (m *memPaymentRepo) CancelActiveEarning(_ context.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledJobs = append(m.cancelledJobs, jobID)
	return nil
}

type memNotifyRepo struct {
	mu   sync.Mutex
	rows []*models.Notification
}

func (m *memNotifyRepo) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, n)
	return nil
}

func newLedgerFixture(proc *stubProcessor) (*Service, *memPaymentRepo, *memNotifyRepo, *events.Bus) {
	logger := slog.New(slog.DiscardHandler)
	repo := newMemPaymentRepo()
	notifyRepo := &memNotifyRepo{}
	bus := events.NewBus()
	gateway := resilience.NewGateway(resilience.NewClassifier(), resilience.NewConstant(time.Millisecond), logger)
	svc := NewService(repo, proc, gateway, notify.NewNotifier(notifyRepo, logger), bus, logger)
	return svc, repo, notifyRepo, bus
}

func testJob() *models.Job {
	return &models.Job{
		ID:                 uuid.New(),
		PosterID:           uuid.New(),
		Title:              "assemble shelves",
		Status:             models.JobStatusPending,
		PaymentAmountCents: 10000,
		ServiceFeeCents:    500,
		TotalAmountCents:   10500,
	}
}

// ---------------------------------------------------------------------------
// Fee math
// ---------------------------------------------------------------------------

func TestServiceFee(t *testing.T) {
	cases := []struct {
		amount int64
		want   int64
	}{
		{10000, 500},
		{2000, 100},
		{1, 0},
		{99, 4},
		{0, 0},
	}
	for _, tc := range cases {
		if got := ServiceFee(tc.amount); got != tc.want {
			t.Errorf("ServiceFee(%d) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

func TestCapturePayment_SynchronousSuccess(t *testing.T) {
	proc := &stubProcessor{
		createFn: func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
			if req.AmountCents != 10500 {
				t.Errorf("captured amount: got %d, want 10500 (gross + fee)", req.AmountCents)
			}
			return &processor.PaymentIntent{ID: "pi_1", Status: processor.IntentStatusSucceeded, AmountCents: req.AmountCents}, nil
		},
	}
	svc, repo, _, _ := newLedgerFixture(proc)

	res, err := svc.CapturePayment(context.Background(), testJob(), "cus_1", "pm_1")
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if !res.Captured || res.Pending {
		t.Fatalf("result: captured=%v pending=%v, want captured", res.Captured, res.Pending)
	}
	if res.Record.Status != models.PaymentStatusCompleted {
		t.Errorf("record status: got %s, want completed", res.Record.Status)
	}
	if res.Record.AmountCents != 10000 || res.Record.ServiceFeeCents != 500 {
		t.Errorf("record split: got %d/%d, want 10000/500", res.Record.AmountCents, res.Record.ServiceFeeCents)
	}
	if res.Record.ExternalTransactionID != "pi_1" {
		t.Errorf("external id: got %s", res.Record.ExternalTransactionID)
	}
	if len(repo.records) != 1 {
		t.Errorf("stored records: got %d, want 1", len(repo.records))
	}
}

func TestCapturePayment_TerminalDeclineNotifiesPoster(t *testing.T) {
	proc := &stubProcessor{
		createFn: func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
			return nil, &processor.Error{Code: "card_declined", Message: "Your card was declined."}
		},
	}
	svc, repo, notifications, _ := newLedgerFixture(proc)

	_, err := svc.CapturePayment(context.Background(), testJob(), "cus_1", "pm_1")
	if err == nil {
		t.Fatal("expected decline error")
	}
	if proc.createCalls != 1 {
		t.Errorf("create calls: got %d, want 1 (terminal errors do not retry)", proc.createCalls)
	}
	if len(repo.records) != 0 {
		t.Errorf("stored records after decline: got %d, want 0", len(repo.records))
	}
	if len(notifications.rows) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(notifications.rows))
	}
	if notifications.rows[0].Type != models.NotificationPaymentFailed {
		t.Errorf("notification type: got %s", notifications.rows[0].Type)
	}
}

func TestCapturePayment_RetryableFailureRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	proc := &stubProcessor{
		createFn: func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
			attempts++
			if attempts < 3 {
				return nil, &processor.Error{Code: "processor_unavailable", HTTPStatus: 503}
			}
			return &processor.PaymentIntent{ID: "pi_2", Status: processor.IntentStatusSucceeded}, nil
		},
	}
	svc, _, _, _ := newLedgerFixture(proc)

	res, err := svc.CapturePayment(context.Background(), testJob(), "cus_1", "pm_1")
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if !res.Captured {
		t.Error("expected capture after retries")
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestCapturePayment_ProcessingDefersToMonitor(t *testing.T) {
	proc := &stubProcessor{
		createFn: func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
			return &processor.PaymentIntent{ID: "pi_3", Status: processor.IntentStatusPending}, nil
		},
		confirmFn: func(id string) (*processor.PaymentIntent, error) {
			return &processor.PaymentIntent{ID: id, Status: processor.IntentStatusProcessing}, nil
		},
	}
	svc, repo, _, bus := newLedgerFixture(proc)
	var pending []events.Signal
	bus.Subscribe(events.PaymentPending, func(sig events.Signal) {
		pending = append(pending, sig)
	})

	res, err := svc.CapturePayment(context.Background(), testJob(), "cus_1", "pm_1")
	if err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if res.Captured || !res.Pending {
		t.Fatalf("result: captured=%v pending=%v, want pending", res.Captured, res.Pending)
	}
	if res.Record.Status != models.PaymentStatusProcessing {
		t.Errorf("record status: got %s, want processing", res.Record.Status)
	}
	if len(repo.records) != 1 {
		t.Error("processing record must be persisted for the monitor")
	}
	// The pending record is announced so the monitor can track it now, not
	// only after the next restart's Resume.
	if len(pending) != 1 {
		t.Fatalf("pending signals: got %d, want 1", len(pending))
	}
	if pending[0].ExternalID != "pi_3" {
		t.Errorf("pending signal external id: got %s, want pi_3", pending[0].ExternalID)
	}
}

func TestCapturePayment_SynchronousSuccessPublishesNoPendingSignal(t *testing.T) {
	proc := &stubProcessor{
		createFn: func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
			return &processor.PaymentIntent{ID: "pi_5", Status: processor.IntentStatusSucceeded}, nil
		},
	}
	svc, _, _, bus := newLedgerFixture(proc)
	var pending int
	bus.Subscribe(events.PaymentPending, func(events.Signal) { pending++ })

	if _, err := svc.CapturePayment(context.Background(), testJob(), "cus_1", "pm_1"); err != nil {
		t.Fatalf("CapturePayment: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending signals after synchronous capture: got %d, want 0", pending)
	}
}

func TestCapturePayment_ConfirmDeclined(t *testing.T) {
	proc := &stubProcessor{
		createFn: func(req processor.CreateIntentRequest) (*processor.PaymentIntent, error) {
			return &processor.PaymentIntent{ID: "pi_4", Status: processor.IntentStatusPending}, nil
		},
		confirmFn: func(id string) (*processor.PaymentIntent, error) {
			return nil, &processor.Error{Code: "insufficient_funds", Message: "Insufficient funds."}
		},
	}
	svc, repo, notifications, _ := newLedgerFixture(proc)

	_, err := svc.CapturePayment(context.Background(), testJob(), "cus_1", "pm_1")
	if err == nil {
		t.Fatal("expected decline error")
	}
	if len(repo.records) != 0 {
		t.Errorf("stored records after decline: got %d, want 0", len(repo.records))
	}
	if len(notifications.rows) != 1 {
		t.Errorf("notifications: got %d, want 1", len(notifications.rows))
	}
}

// ---------------------------------------------------------------------------
// Refund
// ---------------------------------------------------------------------------

func capturedRecord(repo *memPaymentRepo, jobID uuid.UUID) *models.PaymentRecord {
	record := &models.PaymentRecord{
		ID:                    uuid.New(),
		JobID:                 jobID,
		UserID:                uuid.New(),
		AmountCents:           10000,
		ServiceFeeCents:       500,
		ExternalTransactionID: "pi_cap",
		Status:                models.PaymentStatusCompleted,
		Type:                  models.PaymentTypeJobPayment,
	}
	_ = repo.CreatePaymentRecord(context.Background(), record)
	return record
}

func TestRefund_BoundCheckedBeforeAnyMutation(t *testing.T) {
	proc := &stubProcessor{
		refundFn: func(intentID string, amountCents int64) (*processor.Refund, error) {
			return &processor.Refund{ID: "re_1", Status: "succeeded"}, nil
		},
	}
	svc, repo, _, _ := newLedgerFixture(proc)
	record := capturedRecord(repo, uuid.New())

	// Captured 10500; asking for more fails with no processor call or write.
	_, err := svc.Refund(context.Background(), record.ID, 10501, "over-ask")
	if !errors.Is(err, ErrRefundExceedsCaptured) {
		t.Fatalf("got %v, want ErrRefundExceedsCaptured", err)
	}
	if proc.refundCalls != 0 {
		t.Error("processor called despite bound violation")
	}
	if len(repo.refunds) != 0 {
		t.Error("refund record written despite bound violation")
	}

	// Zero and negative amounts are rejected the same way.
	if _, err := svc.Refund(context.Background(), record.ID, 0, "zero"); !errors.Is(err, ErrRefundExceedsCaptured) {
		t.Errorf("zero amount: got %v", err)
	}
	if _, err := svc.Refund(context.Background(), record.ID, -100, "negative"); !errors.Is(err, ErrRefundExceedsCaptured) {
		t.Errorf("negative amount: got %v", err)
	}
}

func TestRefund_CumulativeBound(t *testing.T) {
	proc := &stubProcessor{
		refundFn: func(intentID string, amountCents int64) (*processor.Refund, error) {
			return &processor.Refund{ID: "re_n", Status: "succeeded"}, nil
		},
	}
	svc, repo, _, _ := newLedgerFixture(proc)
	record := capturedRecord(repo, uuid.New())

	if _, err := svc.Refund(context.Background(), record.ID, 6000, "first"); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	// 6000 refunded of 10500; another 5000 would exceed the captured amount.
	if _, err := svc.Refund(context.Background(), record.ID, 5000, "second"); !errors.Is(err, ErrRefundExceedsCaptured) {
		t.Fatalf("second refund: got %v, want ErrRefundExceedsCaptured", err)
	}
	// The remaining 4500 is fine and completes the refund.
	if _, err := svc.Refund(context.Background(), record.ID, 4500, "remainder"); err != nil {
		t.Fatalf("remainder refund: %v", err)
	}
	stored, _ := repo.GetPaymentRecord(context.Background(), record.ID)
	if stored.Status != models.PaymentStatusRefunded {
		t.Errorf("status after full refund: got %s, want refunded", stored.Status)
	}
}

func TestRefund_PartialKeepsCompletedStatus(t *testing.T) {
	proc := &stubProcessor{
		refundFn: func(intentID string, amountCents int64) (*processor.Refund, error) {
			return &processor.Refund{ID: "re_p", Status: "succeeded"}, nil
		},
	}
	svc, repo, _, _ := newLedgerFixture(proc)
	jobID := uuid.New()
	record := capturedRecord(repo, jobID)

	refund, err := svc.Refund(context.Background(), record.ID, 5000, "dispute resolution")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refund.AmountCents != 5000 || refund.Status != models.RefundStatusCompleted {
		t.Errorf("refund record: got %+v", refund)
	}
	stored, _ := repo.GetPaymentRecord(context.Background(), record.ID)
	if stored.Status != models.PaymentStatusCompleted {
		t.Errorf("status after partial refund: got %s, want completed", stored.Status)
	}
	// Any refund cancels a still-active earning on the job.
	if len(repo.cancelledJobs) != 1 || repo.cancelledJobs[0] != jobID {
		t.Errorf("cancelled earnings: got %v, want [%s]", repo.cancelledJobs, jobID)
	}
}

func TestRefund_UncapturedPaymentRejected(t *testing.T) {
	svc, repo, _, _ := newLedgerFixture(&stubProcessor{})
	record := &models.PaymentRecord{
		ID: uuid.New(), JobID: uuid.New(), UserID: uuid.New(),
		AmountCents: 10000, ServiceFeeCents: 500,
		Status: models.PaymentStatusProcessing,
	}
	_ = repo.CreatePaymentRecord(context.Background(), record)

	if _, err := svc.Refund(context.Background(), record.ID, 1000, "too early"); !errors.Is(err, ErrPaymentNotCaptured) {
		t.Errorf("got %v, want ErrPaymentNotCaptured", err)
	}
}

func TestRefund_ProcessorFailureWritesNothing(t *testing.T) {
	proc := &stubProcessor{
		refundFn: func(intentID string, amountCents int64) (*processor.Refund, error) {
			return nil, &processor.Error{Code: "invalid_request", Message: "charge already refunded"}
		},
	}
	svc, repo, _, _ := newLedgerFixture(proc)
	record := capturedRecord(repo, uuid.New())

	if _, err := svc.Refund(context.Background(), record.ID, 1000, "boom"); err == nil {
		t.Fatal("expected processor error")
	}
	if len(repo.refunds) != 0 {
		t.Error("refund record written despite processor failure")
	}
	if len(repo.cancelledJobs) != 0 {
		t.Error("earning cancelled despite processor failure")
	}
}
