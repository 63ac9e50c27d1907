package reconcile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
	gatewaytypes "github.com/ronakch1234/payment-reconciler/internal/core/datamodel/paymentgateway"
)

// Outcome is the result of one resolution attempt. It decides what happens to
// the marker.
type Outcome string

const (
	// OutcomeResolved clears the retryable flag.
	OutcomeResolved Outcome = "resolved"
	// OutcomeAbandoned clears the retryable flag without a successful retry,
	// e.g. the payment no longer exists.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeRetryLater keeps the marker eligible and stamps last_attempt_at.
	OutcomeRetryLater Outcome = "retry_later"
)

// Resolver attempts to settle one failed payment. A returned error is a
// per-marker failure and leaves the marker untouched.
type Resolver interface {
	Resolve(ctx context.Context, marker *payment.FailedPayment) (Outcome, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, marker *payment.FailedPayment) (Outcome, error)

func (f ResolverFunc) Resolve(ctx context.Context, marker *payment.FailedPayment) (Outcome, error) {
	return f(ctx, marker)
}

// AcknowledgeResolver marks every failure as resolved without contacting
// anyone. It is the default and matches the legacy loop, which flipped every
// marker it saw.
type AcknowledgeResolver struct{}

func (AcknowledgeResolver) Resolve(ctx context.Context, marker *payment.FailedPayment) (Outcome, error) {
	return OutcomeResolved, nil
}

type PaymentLookup interface {
	GetPayment(ctx context.Context, id int64) (*payment.Payment, error)
}

type RetryClient interface {
	RetryPayment(ctx context.Context, req gatewaytypes.RetryRequest) (*gatewaytypes.RetryResponse, error)
}

// GatewayResolver asks the payment gateway to retry the referenced payment and
// maps its verdict to an Outcome.
type GatewayResolver struct {
	payments PaymentLookup
	client   RetryClient
}

func NewGatewayResolver(payments PaymentLookup, client RetryClient) *GatewayResolver {
	return &GatewayResolver{payments: payments, client: client}
}

func (r *GatewayResolver) Resolve(ctx context.Context, marker *payment.FailedPayment) (Outcome, error) {
	paymentID, err := strconv.ParseInt(marker.PaymentID, 10, 64)
	if err != nil {
		return OutcomeAbandoned, nil
	}

	p, err := r.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("load payment %d: %w", paymentID, err)
	}
	if p == nil {
		return OutcomeAbandoned, nil
	}

	resp, err := r.client.RetryPayment(ctx, gatewaytypes.RetryRequest{
		PaymentID:     marker.PaymentID,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("retry payment %d: %w", paymentID, err)
	}

	switch resp.Status {
	case gatewaytypes.RetryStatusSuccess:
		return OutcomeResolved, nil
	case gatewaytypes.RetryStatusRejected:
		return OutcomeAbandoned, nil
	case gatewaytypes.RetryStatusFailed, gatewaytypes.RetryStatusPending:
		return OutcomeRetryLater, nil
	default:
		return "", fmt.Errorf("unexpected gateway status %q", resp.Status)
	}
}
