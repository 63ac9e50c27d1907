package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentRecorded      = "payment.recorded"
	EventTypePaymentFailed        = "payment.failed"
	EventTypePaymentRetryResolved = "payment.retry_resolved"
)

type PaymentRecordedEvent struct {
	BaseEvent
	PaymentID     int64           `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
}

func NewPaymentRecordedEvent(paymentID int64, transactionID string, amount decimal.Decimal, status string) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRecorded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"transaction_id": transactionID,
				"amount":         amount.String(),
				"status":         status,
			},
		},
		PaymentID:     paymentID,
		TransactionID: transactionID,
		Amount:        amount,
		Status:        status,
	}
}

// PaymentFailedEvent is published once a FAILED payment has been enrolled for retry.
type PaymentFailedEvent struct {
	BaseEvent
	PaymentID       int64  `json:"payment_id"`
	FailedPaymentID int64  `json:"failed_payment_id"`
	TransactionID   string `json:"transaction_id"`
}

func NewPaymentFailedEvent(paymentID, failedPaymentID int64, transactionID string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":        paymentID,
				"failed_payment_id": failedPaymentID,
				"transaction_id":    transactionID,
			},
		},
		PaymentID:       paymentID,
		FailedPaymentID: failedPaymentID,
		TransactionID:   transactionID,
	}
}

type PaymentRetryResolvedEvent struct {
	BaseEvent
	FailedPaymentID int64  `json:"failed_payment_id"`
	PaymentID       string `json:"payment_id"`
	Outcome         string `json:"outcome"`
}

func NewPaymentRetryResolvedEvent(failedPaymentID int64, paymentID, outcome string) *PaymentRetryResolvedEvent {
	return &PaymentRetryResolvedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRetryResolved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"failed_payment_id": failedPaymentID,
				"payment_id":        paymentID,
				"outcome":           outcome,
			},
		},
		FailedPaymentID: failedPaymentID,
		PaymentID:       paymentID,
		Outcome:         outcome,
	}
}
