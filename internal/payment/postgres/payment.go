package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/common/validation"
	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	paymentpkg "github.com/ronakch1234/payment-reconciler/internal/payment"
)

// PaymentRepository stores payments and failed payment markers. Every call is
// bounded by the configured query timeout.
type PaymentRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewPaymentRepository returns a repository over db. A non-positive timeout
// falls back to internal.DefaultStoreTimeout.
func NewPaymentRepository(db *gorm.DB, timeout time.Duration) *PaymentRepository {
	return &PaymentRepository{
		db:      db,
		timeout: timeout,
	}
}

// CreatePayment inserts one payment. Malformed values are rejected before the
// insert even though callers are expected to validate first.
func (r *PaymentRepository) CreatePayment(ctx context.Context, transactionID string, amount decimal.Decimal, status payment.Status, timestamp time.Time) (*payment.Payment, error) {
	v := validation.NewValidator()
	v.Field("transaction_id", transactionID).Required().MaxLength(100)
	v.Field("amount", amount).
		Positive(internal.ErrCodeInvalidAmount).
		Precision(payment.AmountPrecision, payment.AmountScale, internal.ErrCodeInvalidAmount)
	v.Field("status", status).Custom(func(value interface{}) *internal.AppError {
		if !status.Valid() {
			return internal.NewValidationFieldError("status", fmt.Sprintf("invalid status value %q", status), internal.ErrCodeInvalidStatus)
		}
		return nil
	})
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	p := &payment.Payment{
		TransactionID: transactionID,
		Amount:        amount,
		Status:        status,
		Timestamp:     timestamp,
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, internal.NewStoreError("insert payment", err)
	}
	return p, nil
}

// ListPayments streams matching payments ordered by id. Each range over the
// returned sequence runs a fresh query, so the sequence can be consumed again.
func (r *PaymentRepository) ListPayments(ctx context.Context, filter paymentpkg.Filter) iter.Seq2[*payment.Payment, error] {
	return func(yield func(*payment.Payment, error) bool) {
		ctx, cancel := internal.WithTimeout(ctx, r.timeout)
		defer cancel()

		query, err := applyFilter(r.db.WithContext(ctx).Model(&payment.Payment{}), filter)
		if err != nil {
			yield(nil, err)
			return
		}

		rows, err := query.Order("id ASC").Rows()
		if err != nil {
			yield(nil, internal.NewStoreError("list payments", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var p payment.Payment
			if err := r.db.ScanRows(rows, &p); err != nil {
				yield(nil, internal.NewStoreError("scan payment", err))
				return
			}
			if !yield(&p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, internal.NewStoreError("list payments", err))
		}
	}
}

func applyFilter(query *gorm.DB, filter paymentpkg.Filter) (*gorm.DB, error) {
	switch f := filter.(type) {
	case nil, paymentpkg.AllPayments:
		return query, nil
	case paymentpkg.ByStatus:
		if !f.Status.Valid() {
			return nil, internal.NewValidationFieldError("status", fmt.Sprintf("invalid status value %q", f.Status), internal.ErrCodeInvalidStatus)
		}
		return query.Where("status = ?", f.Status), nil
	default:
		return nil, internal.NewInternalError(fmt.Sprintf("unsupported payment filter %T", filter), nil)
	}
}

// GetPayment returns nil, nil when no payment has id.
func (r *PaymentRepository) GetPayment(ctx context.Context, id int64) (*payment.Payment, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p payment.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, internal.NewStoreError("get payment", err)
	}
	return &p, nil
}

// DeletePayment removes a payment and returns the removed row, or nil, nil
// when it did not exist. Markers referencing it are left alone.
func (r *PaymentRepository) DeletePayment(ctx context.Context, id int64) (*payment.Payment, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	var deleted *payment.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p payment.Payment
		if err := tx.Where("id = ?", id).First(&p).Error; err != nil {
			return err
		}
		if err := tx.Delete(&payment.Payment{}, id).Error; err != nil {
			return err
		}
		deleted = &p
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, internal.NewStoreError("delete payment", err)
	}
	return deleted, nil
}

func (r *PaymentRepository) CreateFailedPayment(ctx context.Context, paymentID string, retryable bool, lastAttemptAt time.Time) (*payment.FailedPayment, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	marker := &payment.FailedPayment{
		PaymentID:     paymentID,
		Retryable:     retryable,
		LastAttemptAt: lastAttemptAt,
	}
	if err := r.db.WithContext(ctx).Create(marker).Error; err != nil {
		return nil, internal.NewStoreError("insert failed payment", err)
	}
	return marker, nil
}

// ListRetryableFailedPayments returns a snapshot of every retryable marker,
// oldest first.
func (r *PaymentRepository) ListRetryableFailedPayments(ctx context.Context) ([]*payment.FailedPayment, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	markers := make([]*payment.FailedPayment, 0)
	err := r.db.WithContext(ctx).
		Where("retryable = ?", true).
		Order("id ASC").
		Find(&markers).Error
	if err != nil {
		return nil, internal.NewStoreError("list retryable failed payments", err)
	}
	return markers, nil
}

// ListFailedPayments returns every marker regardless of eligibility.
func (r *PaymentRepository) ListFailedPayments(ctx context.Context) ([]*payment.FailedPayment, error) {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	markers := make([]*payment.FailedPayment, 0)
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&markers).Error; err != nil {
		return nil, internal.NewStoreError("list failed payments", err)
	}
	return markers, nil
}

// MarkFailedPaymentNonRetryable clears the retryable flag. Repeating the call
// or passing an unknown id changes nothing.
func (r *PaymentRepository) MarkFailedPaymentNonRetryable(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.WithContext(ctx).
		Model(&payment.FailedPayment{}).
		Where("id = ? AND retryable = ?", id, true).
		Updates(map[string]interface{}{
			"retryable":       false,
			"last_attempt_at": at,
		}).Error
	if err != nil {
		return internal.NewStoreError("mark failed payment non-retryable", err)
	}
	return nil
}

// RecordFailedPaymentAttempt stamps last_attempt_at and leaves the marker eligible.
func (r *PaymentRepository) RecordFailedPaymentAttempt(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := internal.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.WithContext(ctx).
		Model(&payment.FailedPayment{}).
		Where("id = ?", id).
		Update("last_attempt_at", at).Error
	if err != nil {
		return internal.NewStoreError("record failed payment attempt", err)
	}
	return nil
}
