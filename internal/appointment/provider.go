package appointment

import (
	"context"
	"errors"
)

// ErrPaymentProvider wraps failures of the outbound provider calls. These
// are always surfaced: a slot must not be held without a corresponding
// payment attempt.
var ErrPaymentProvider = errors.New("payment provider call failed")

// RefundSucceeded is the provider's terminal success outcome for a refund.
const RefundSucceeded = "succeeded"

// PaymentIntent is the provider-side handle for an authorized charge.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// PaymentProvider is the outbound payment interface consumed by the
// booking service. Implementations live in internal/payments.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, intentID string) (string, error)
}
