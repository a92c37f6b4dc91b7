package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository для локального
// режима и тестов. Семантика версионирования повторяет PostgreSQL-реализацию:
// Save сравнивает версию и инкрементирует её при успехе.
type orderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository создаёт пустой in-memory репозиторий заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepository{orders: make(map[string]domain.Order)}
}

func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.orders[order.ID] = order
	return nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// Save проверяет версию и перезаписывает заказ. Несовпадение версии
// означает конкурентное обновление: вызывающий перечитывает и повторяет.
func (r *orderRepository) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	order.Version++
	r.orders[order.ID] = order
	return nil
}

// ListByCustomer возвращает заказы клиента новые-первыми, как и
// PostgreSQL-реализация (created_at DESC, id DESC).
func (r *orderRepository) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if order.CustomerID == customerID {
			result = append(result, order)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
