package payments

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/carebook/booking-engine/internal/appointment"
)

// FakeProvider is an in-memory provider for development and tests. It
// hands out deterministic intent ids and always-succeeding refunds.
type FakeProvider struct {
	counter atomic.Int64

	mu           sync.Mutex
	RefundStatus string // outcome returned by CreateRefund, default "succeeded"
	RefundErr    error  // forced CreateRefund failure
	IntentErr    error  // forced CreateIntent failure
	Refunded     []string
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{RefundStatus: appointment.RefundSucceeded}
}

var _ appointment.PaymentProvider = (*FakeProvider)(nil)

func (p *FakeProvider) CreateIntent(_ context.Context, amountCents int64, _ map[string]string) (*appointment.PaymentIntent, error) {
	p.mu.Lock()
	err := p.IntentErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	n := p.counter.Add(1)
	return &appointment.PaymentIntent{
		ID:           fmt.Sprintf("pi_fake_%06d", n),
		ClientSecret: fmt.Sprintf("pi_fake_%06d_secret_%d", n, amountCents),
	}, nil
}

func (p *FakeProvider) CreateRefund(_ context.Context, intentID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RefundErr != nil {
		return "", p.RefundErr
	}
	p.Refunded = append(p.Refunded, intentID)
	return p.RefundStatus, nil
}
