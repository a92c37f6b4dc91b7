package breaker

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// PaymentService — декоратор платёжного провайдера circuit breaker-ом.
// Approve и Refund делят одну цепь: деградация провайдера видна на обеих
// операциях сразу.
type PaymentService struct {
	inner   domain.PaymentService
	breaker *Breaker
}

// WrapPayment оборачивает платёжный сервис в breaker.
func WrapPayment(inner domain.PaymentService, b *Breaker) *PaymentService {
	return &PaymentService{inner: inner, breaker: b}
}

func (p *PaymentService) Approve(ctx context.Context, orderID string, amountMinor int64, currency string) error {
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.inner.Approve(ctx, orderID, amountMinor, currency)
	})
}

func (p *PaymentService) Refund(ctx context.Context, orderID string, amountMinor int64, currency string) error {
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return p.inner.Refund(ctx, orderID, amountMinor, currency)
	})
}

var _ domain.PaymentService = (*PaymentService)(nil)
