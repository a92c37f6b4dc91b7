package payment

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockService — конфигурируемая заглушка PaymentService для тестов и
// локальной разработки без платёжного провайдера.
type MockService struct {
	ApproveErr error
	RefundErr  error
	PingErr    error

	ApproveCalls int
	RefundCalls  int
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{}
}

// Approve возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) Approve(_ context.Context, orderID string, amountMinor int64, currency string) error {
	m.ApproveCalls++
	return m.ApproveErr
}

// Refund возвращает заранее настроенную ошибку и считает вызовы.
func (m *MockService) Refund(_ context.Context, orderID string, amountMinor int64, currency string) error {
	m.RefundCalls++
	return m.RefundErr
}

// Ping отдаёт настроенную ошибку доступности провайдера. Используется
// health-проверкой платёжной зависимости.
func (m *MockService) Ping(_ context.Context) error {
	return m.PingErr
}

var _ domain.PaymentService = (*MockService)(nil)
