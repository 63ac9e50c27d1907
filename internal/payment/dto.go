package payment

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/common/validation"
	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
)

const maxTransactionIDLength = 100

// WebhookRequest is the body of POST /webhooks/payment.
type WebhookRequest struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate checks every field and reports all failures together.
func (r *WebhookRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("transactionId", r.TransactionID).Required().MaxLength(maxTransactionIDLength)
	validator.Field("amount", r.Amount).
		Positive(errors.ErrCodeInvalidAmount).
		Precision(payment.AmountPrecision, payment.AmountScale, errors.ErrCodeInvalidAmount)
	validator.Field("status", r.Status).OneOf(statusNames(), errors.ErrCodeInvalidStatus)
	validator.Field("timestamp", r.Timestamp).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
