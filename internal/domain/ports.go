package domain

import (
	"context"
	"time"
)

// Clock абстрагирует источник времени для тестируемости TTL и sweeps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock возвращает Clock поверх time.Now (UTC).
func SystemClock() Clock { return systemClock{} }

// TxManager исполняет функцию внутри одной локальной транзакции хранилища.
// Репозитории подхватывают транзакцию из контекста: именно так бизнес-запись,
// вставка в outbox и отметка processed-события коммитятся атомарно.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventBus публикует сообщение в брокер. Key используется как partition key:
// упорядоченность гарантируется только внутри одного агрегата.
type EventBus interface {
	Publish(topic, key string, payload []byte) error
}

// OutboxPublisher доставляет записи transactional outbox наружу.
// Доставка at-least-once: consumers обязаны быть идемпотентными.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository хранит события для последующей публикации.
type OutboxRepository interface {
	// Enqueue вставляет запись в статусе ready внутри транзакции вызывающего.
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullReady возвращает до limit записей в статусе ready, старые первыми.
	PullReady(ctx context.Context, limit int) ([]OutboxMessage, error)
	// MarkSent фиксирует успешную публикацию (ready → sent, ровно один раз).
	MarkSent(ctx context.Context, id string) error
	// IncrementRetry наращивает retry_count и возвращает новое значение.
	IncrementRetry(ctx context.Context, id string) (int, error)
	// MarkFailed переводит запись в терминальный failed после исчерпания retry.
	MarkFailed(ctx context.Context, id string) error
	// Requeue возвращает failed-запись в ready (операторский ход).
	Requeue(ctx context.Context, id string) error
	// PullFailed возвращает до limit записей в статусе failed.
	PullFailed(ctx context.Context, limit int) ([]OutboxMessage, error)
	// Stats возвращает состояние backlog.
	Stats(ctx context.Context) (OutboxStats, error)
}

// ProcessedEventRepository — dedup store идемпотентного consumer-а.
type ProcessedEventRepository interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	// Record вставляет отметку в транзакции вызывающего.
	Record(ctx context.Context, event ProcessedEvent) error
	// DeleteOlderThan удаляет до limit отметок старше before, возвращает число удалённых.
	DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int, error)
}

// ReservationRepository хранит резервирования.
type ReservationRepository interface {
	Create(ctx context.Context, reservation Reservation) error
	GetByKey(ctx context.Context, kind ReservationKind, key string) (Reservation, error)
	// UpdateStatus выполняет условный переход from → to; при несовпадении
	// текущего статуса возвращает ErrReservationStale.
	UpdateStatus(ctx context.Context, id string, from, to ReservationStatus, now time.Time) error
	// ListExpired возвращает reserved-резервы с истёкшим TTL.
	ListExpired(ctx context.Context, kind ReservationKind, before time.Time, limit int) ([]Reservation, error)
}

// ResourceRepository хранит счётчики доступности ресурсов.
type ResourceRepository interface {
	Create(ctx context.Context, resource Resource) error
	Get(ctx context.Context, kind ReservationKind, id string) (Resource, error)
	// Save применяет обновление с учётом optimistic locking по Version.
	Save(ctx context.Context, resource Resource) error
}

// OrderRepository описывает требования к хранилищу заказов координатора.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// PaymentService описывает взаимодействие с платёжным провайдером.
type PaymentService interface {
	// Approve инициирует списание средств по заказу.
	Approve(ctx context.Context, orderID string, amountMinor int64, currency string) error
	// Refund инициирует возврат средств (для компенсаций).
	Refund(ctx context.Context, orderID string, amountMinor int64, currency string) error
}

// LockExecutor исполняет action под короткоживущим distributed lock-ом.
// Лок не берётся за waitTime — ErrLockNotAcquired; lease истекает сам,
// даже если владелец умер, что исключает deadlock от мёртвого держателя.
type LockExecutor interface {
	WithLock(ctx context.Context, key string, waitTime, leaseTime time.Duration, fn func(ctx context.Context) error) error
}

// HealthChecker отдаёт здоровье внешней зависимости по имени.
type HealthChecker interface {
	Check(ctx context.Context, service string) error
}
