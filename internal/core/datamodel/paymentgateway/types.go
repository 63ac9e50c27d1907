package paymentgateway

import (
	"errors"

	"github.com/shopspring/decimal"
)

// RetryStatus is the gateway's verdict on a retry request.
type RetryStatus string

const (
	RetryStatusSuccess  RetryStatus = "success"
	RetryStatusFailed   RetryStatus = "failed"
	RetryStatusPending  RetryStatus = "pending"
	RetryStatusRejected RetryStatus = "rejected"
)

type RetryRequest struct {
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

func (r *RetryRequest) Validate() error {
	if r.PaymentID == "" {
		return errors.New("payment_id is required")
	}
	if r.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	return nil
}

type RetryResponse struct {
	PaymentID string      `json:"payment_id"`
	Status    RetryStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
}
