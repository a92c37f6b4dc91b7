package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// txManagerInMemory — тривиальный TxManager для in-memory хранилищ: репозитории
// здесь мутируют состояние под собственными мьютексами, откат не моделируется.
type txManagerInMemory struct{}

// NewTxManager возвращает no-op TxManager для тестов и локальной разработки.
func NewTxManager() domain.TxManager {
	return txManagerInMemory{}
}

// WithTx просто исполняет fn с тем же контекстом.
func (txManagerInMemory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ domain.TxManager = txManagerInMemory{}
