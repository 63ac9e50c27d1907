package payment

import (
	"fmt"
	"strings"

	errors "github.com/ronakch1234/payment-reconciler/internal"
	"github.com/ronakch1234/payment-reconciler/internal/core/datamodel/payment"
)

// Filter selects payments for a listing. The set of filters is closed: the
// store translates each variant into a parameterized predicate, so callers can
// never contribute query text.
type Filter interface {
	isFilter()
}

// AllPayments matches every payment.
type AllPayments struct{}

// ByStatus matches payments with exactly Status.
type ByStatus struct {
	Status payment.Status
}

func (AllPayments) isFilter() {}
func (ByStatus) isFilter()    {}

func ParseStatus(raw string) (payment.Status, error) {
	status := payment.Status(raw)
	if !status.Valid() {
		return "", errors.NewValidationFieldError("status",
			fmt.Sprintf("invalid status value %q, expected one of %s", raw, strings.Join(statusNames(), ", ")),
			errors.ErrCodeInvalidStatus)
	}
	return status, nil
}

// FilterFromQuery turns the optional ?status= query value into a Filter.
func FilterFromQuery(status string) (Filter, error) {
	if status == "" {
		return AllPayments{}, nil
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return ByStatus{Status: parsed}, nil
}

func statusNames() []string {
	names := make([]string, len(payment.Statuses))
	for i, s := range payment.Statuses {
		names[i] = string(s)
	}
	return names
}
