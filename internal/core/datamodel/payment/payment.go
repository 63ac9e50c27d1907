package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusPending Status = "PENDING"
)

// Amount column shape: numeric(AmountPrecision, AmountScale).
const (
	AmountPrecision = 10
	AmountScale     = 2
)

// Statuses lists every status a payment event can carry.
var Statuses = []Status{StatusSuccess, StatusFailed, StatusPending}

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending:
		return true
	}
	return false
}

// Payment is one received payment event. Rows are written once and never updated.
type Payment struct {
	ID            int64           `json:"id" gorm:"primaryKey"`
	TransactionID string          `json:"transaction_id" gorm:"column:transaction_id;type:varchar(100);not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(10,2);not null"`
	Status        Status          `json:"status" gorm:"column:status;type:varchar(10);not null"`
	Timestamp     time.Time       `json:"timestamp" gorm:"column:timestamp;not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsFailed() bool {
	return p.Status == StatusFailed
}

// FailedPayment marks a failed payment as eligible for reconciliation.
// PaymentID is a weak reference stored as text; the payment row may be gone.
type FailedPayment struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	PaymentID     string    `json:"payment_id" gorm:"column:payment_id;type:varchar(100);not null"`
	Retryable     bool      `json:"retryable" gorm:"column:retryable;not null"`
	LastAttemptAt time.Time `json:"last_attempt_at" gorm:"column:last_attempt_at;not null"`
}

func (FailedPayment) TableName() string {
	return "failed_payments"
}
