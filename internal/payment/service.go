package payment

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	"github.com/ronakch1234/payment-reconciler/internal/core/events"
	"github.com/ronakch1234/payment-reconciler/pkg/logger"
)

// RepositoryAPI is the slice of the payment store used by ingestion and queries.
type RepositoryAPI interface {
	CreatePayment(ctx context.Context, transactionID string, amount decimal.Decimal, status payment.Status, timestamp time.Time) (*payment.Payment, error)
	ListPayments(ctx context.Context, filter Filter) iter.Seq2[*payment.Payment, error]
	GetPayment(ctx context.Context, id int64) (*payment.Payment, error)
	DeletePayment(ctx context.Context, id int64) (*payment.Payment, error)
	CreateFailedPayment(ctx context.Context, paymentID string, retryable bool, lastAttemptAt time.Time) (*payment.FailedPayment, error)
}

type Service struct {
	repo   RepositoryAPI
	bus    *events.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the ingestion and query operations. bus may be nil.
func NewService(repo RepositoryAPI, bus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// RecordPayment persists one webhook event. A FAILED event is enrolled in the
// retry queue right after its payment row is written. Redelivered events are
// stored again; deduplication by transaction id is left to the caller.
func (s *Service) RecordPayment(ctx context.Context, req *WebhookRequest) (*payment.Payment, error) {
	log := logger.From(ctx)

	if err := req.Validate(); err != nil {
		log.Warn("payment webhook rejected", "transaction_id", req.TransactionID, "error", err)
		return nil, err
	}

	created, err := s.repo.CreatePayment(ctx, req.TransactionID, req.Amount, payment.Status(req.Status), req.Timestamp)
	if err != nil {
		log.Error("failed to record payment", "transaction_id", req.TransactionID, "error", err)
		return nil, fmt.Errorf("record payment: %w", err)
	}

	s.publish(ctx, events.NewPaymentRecordedEvent(created.ID, created.TransactionID, created.Amount, string(created.Status)))

	if created.IsFailed() {
		marker, err := s.repo.CreateFailedPayment(ctx, strconv.FormatInt(created.ID, 10), true, s.now().UTC())
		if err != nil {
			log.Error("payment recorded but retry enrollment failed",
				"payment_id", created.ID,
				"transaction_id", created.TransactionID,
				"error", err)
			return nil, fmt.Errorf("enroll failed payment %d: %w", created.ID, err)
		}

		log.Info("failed payment enrolled for retry",
			"payment_id", created.ID,
			"failed_payment_id", marker.ID)
		s.publish(ctx, events.NewPaymentFailedEvent(created.ID, marker.ID, created.TransactionID))
	}

	log.Info("payment recorded",
		"payment_id", created.ID,
		"transaction_id", created.TransactionID,
		"status", created.Status)

	return created, nil
}

// ListPayments drains the store sequence for filter, in insertion order.
func (s *Service) ListPayments(ctx context.Context, filter Filter) ([]*payment.Payment, error) {
	if filter == nil {
		filter = AllPayments{}
	}

	payments := make([]*payment.Payment, 0)
	for p, err := range s.repo.ListPayments(ctx, filter) {
		if err != nil {
			logger.From(ctx).Error("failed to list payments", "error", err)
			return nil, fmt.Errorf("list payments: %w", err)
		}
		payments = append(payments, p)
	}

	return payments, nil
}

func (s *Service) GetPayment(ctx context.Context, id int64) (*payment.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment %d: %w", id, err)
	}
	if p == nil {
		return nil, errors.ErrPaymentNotFound
	}
	return p, nil
}

// DeletePayment is an administrative operation. Markers that reference the
// payment are left in place.
func (s *Service) DeletePayment(ctx context.Context, id int64) (*payment.Payment, error) {
	p, err := s.repo.DeletePayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete payment %d: %w", id, err)
	}
	if p == nil {
		return nil, errors.ErrPaymentNotFound
	}

	s.logger.Info("payment deleted", "payment_id", p.ID, "transaction_id", p.TransactionID)
	return p, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event)
}
