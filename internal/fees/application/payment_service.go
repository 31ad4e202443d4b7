package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"schoolfees-cloud/internal/audit"
	"schoolfees-cloud/internal/auth"
	"schoolfees-cloud/internal/fees/application/events"
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/observability/metrics"
)

// recordAttempts bounds the read-modify-write loop on version conflicts.
const recordAttempts = 3

// FeeStructureProvider resolves the amount due when a snapshot is first
// established for an account and period.
type FeeStructureProvider interface {
	ResolveTotalDue(ctx context.Context, accountID string, period fees.Period) (float64, error)
}

// PaymentPublisher emits payment recorded events.
type PaymentPublisher interface {
	PublishPaymentRecorded(ctx context.Context, event events.PaymentRecorded) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// RecordPaymentCommand carries one payment to record.
type RecordPaymentCommand struct {
	TenantID   string
	AccountID  string
	Term       string
	Session    string
	Amount     float64
	Method     fees.Method
	Details    json.RawMessage
	RecordedBy string
	PaidAt     time.Time
}

// PaymentService coordinates ledger appends and snapshot maintenance.
type PaymentService struct {
	store        fees.PaymentStore
	snapshots    fees.SnapshotRepository
	receipts     fees.ReceiptAllocator
	feeStructure FeeStructureProvider
	accounts     auth.AccountTenantChecker
	publisher    PaymentPublisher
	auditLogger  audit.Logger
	clock        Clock
	logger       *log.Logger
	tenantID     string
}

// NewPaymentService constructs the service.
func NewPaymentService(
	store fees.PaymentStore,
	snapshots fees.SnapshotRepository,
	receipts fees.ReceiptAllocator,
	feeStructure FeeStructureProvider,
	accounts auth.AccountTenantChecker,
	publisher PaymentPublisher,
	auditLogger audit.Logger,
	clock Clock,
	logger *log.Logger,
	tenantID string,
) (*PaymentService, error) {
	if store == nil {
		return nil, errors.New("payment service: nil payment store")
	}
	if snapshots == nil {
		return nil, errors.New("payment service: nil snapshot repository")
	}
	if receipts == nil {
		return nil, errors.New("payment service: nil receipt allocator")
	}
	if feeStructure == nil {
		return nil, errors.New("payment service: nil fee structure provider")
	}
	if tenantID == "" {
		return nil, errors.New("payment service: empty tenant id")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}

	return &PaymentService{
		store:        store,
		snapshots:    snapshots,
		receipts:     receipts,
		feeStructure: feeStructure,
		accounts:     accounts,
		publisher:    publisher,
		auditLogger:  auditLogger,
		clock:        clock,
		logger:       logger,
		tenantID:     tenantID,
	}, nil
}

// RecordPayment appends a payment to the ledger and updates the snapshot for
// its key in one transaction. Returns the snapshot reflecting the payment and
// the allocated receipt number.
func (s *PaymentService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (*fees.FeeStatusSnapshot, string, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObservePaymentRecord(result, time.Since(start))
	}()

	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = cmd.TenantID
	}
	if tenantID == "" {
		tenantID = s.tenantID
	}

	period, err := fees.NewPeriod(cmd.Term, cmd.Session)
	if err != nil {
		result = metrics.ResultError
		return nil, "", err
	}
	if cmd.Amount <= 0 {
		result = metrics.ResultError
		return nil, "", fees.ErrInvalidAmount
	}
	details, err := fees.DecodeDetails(cmd.Method, cmd.Details)
	if err != nil {
		result = metrics.ResultError
		return nil, "", err
	}
	if err := details.Validate(); err != nil {
		result = metrics.ResultError
		return nil, "", err
	}

	if s.accounts != nil {
		if err := s.accounts.EnsureAccountTenant(ctx, tenantID, cmd.AccountID); err != nil {
			result = metrics.ResultError
			if errors.Is(err, auth.ErrNotFound) {
				return nil, "", fees.ErrAccountNotFound
			}
			return nil, "", err
		}
	}

	receiptNumber, err := s.receipts.Next(ctx, period.Session)
	if err != nil {
		result = metrics.ResultError
		return nil, "", err
	}
	metrics.IncReceiptIssued()

	paidAt := cmd.PaidAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}

	var event fees.PaymentEvent
	var snapshot *fees.FeeStatusSnapshot
	for attempt := 0; ; attempt++ {
		snapshot, err = s.loadOrCreateSnapshot(ctx, cmd.AccountID, period)
		if err != nil {
			result = metrics.ResultError
			return nil, "", err
		}

		event, err = fees.NewPaymentEvent(
			uuid.NewString(),
			tenantID,
			cmd.AccountID,
			period,
			cmd.Amount,
			details,
			paidAt,
			receiptNumber,
			cmd.RecordedBy,
		)
		if err != nil {
			result = metrics.ResultError
			return nil, "", err
		}

		if err = snapshot.ApplyPayment(cmd.Amount, receiptNumber, paidAt); err != nil {
			result = metrics.ResultError
			return nil, "", err
		}

		err = s.store.RecordPayment(ctx, event, snapshot)
		if err == nil {
			break
		}
		if errors.Is(err, fees.ErrVersionConflict) && attempt < recordAttempts-1 {
			metrics.IncVersionConflict()
			continue
		}
		result = metrics.ResultError
		return nil, "", err
	}

	s.logAudit(ctx, tenantID, event, snapshot)
	s.publish(ctx, tenantID, event, snapshot)
	return snapshot, receiptNumber, nil
}

func (s *PaymentService) loadOrCreateSnapshot(ctx context.Context, accountID string, period fees.Period) (*fees.FeeStatusSnapshot, error) {
	key, err := fees.BuildAccountPeriodKey(accountID, period)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		return snapshot, nil
	}

	totalDue, err := s.feeStructure.ResolveTotalDue(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	return fees.NewFeeStatusSnapshot(accountID, period, totalDue)
}

func (s *PaymentService) logAudit(ctx context.Context, tenantID string, event fees.PaymentEvent, snapshot *fees.FeeStatusSnapshot) {
	if s.auditLogger == nil {
		return
	}
	actor := auth.SubjectFromContext(ctx)
	if actor == "" {
		actor = event.RecordedBy
	}
	meta, _ := json.Marshal(map[string]any{
		"amount":         event.Amount,
		"method":         string(event.Method),
		"receipt_number": event.ReceiptNumber,
		"term":           event.Term,
		"session":        event.Session,
		"balance":        snapshot.Balance(),
		"status":         string(snapshot.Status()),
	})
	err := s.auditLogger.Log(ctx, audit.Entry{
		TenantID:     tenantID,
		Actor:        actor,
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "payment.record",
		ResourceType: "payment",
		ResourceID:   event.ID,
		AccountID:    event.AccountID,
		Metadata:     meta,
	})
	if err != nil {
		s.logger.Printf("event=audit_log_failed action=payment.record payment_id=%s err=%v", event.ID, err)
	}
}

func (s *PaymentService) publish(ctx context.Context, tenantID string, event fees.PaymentEvent, snapshot *fees.FeeStatusSnapshot) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishPaymentRecorded(ctx, events.PaymentRecorded{
		EventID:       event.ID,
		TenantID:      tenantID,
		AccountID:     event.AccountID,
		Term:          event.Term,
		Session:       event.Session,
		Amount:        event.Amount,
		Method:        string(event.Method),
		ReceiptNumber: event.ReceiptNumber,
		Balance:       snapshot.Balance(),
		Status:        string(snapshot.Status()),
		OccurredAt:    s.clock.Now(),
	})
	if err != nil {
		s.logger.Printf("event=payment_publish_failed payment_id=%s err=%v", event.ID, err)
	}
}
