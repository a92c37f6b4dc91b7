package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// outboxRepositoryInMemory — простое in-memory хранилище для transactional outbox.
type outboxRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]*domain.OutboxMessage
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *outboxRepositoryInMemory {
	return &outboxRepositoryInMemory{records: make(map[string]*domain.OutboxMessage)}
}

// Enqueue сохраняет событие со статусом ready и возвращает его с идентификатором.
func (r *outboxRepositoryInMemory) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusReady
	msg.RetryCount = 0
	msg.CreatedAt = now
	msg.UpdatedAt = now

	stored := msg
	r.records[msg.ID] = &stored
	return msg, nil
}

// PullReady возвращает до limit сообщений со статусом ready, старые первыми.
func (r *outboxRepositoryInMemory) PullReady(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	return r.pullByStatus(domain.OutboxStatusReady, limit), nil
}

// PullFailed возвращает до limit сообщений со статусом failed.
func (r *outboxRepositoryInMemory) PullFailed(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	return r.pullByStatus(domain.OutboxStatusFailed, limit), nil
}

func (r *outboxRepositoryInMemory) pullByStatus(status domain.OutboxStatus, limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, rec := range r.records {
		if rec.Status != status {
			continue
		}
		result = append(result, *rec)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.setStatus(id, domain.OutboxStatusSent)
}

// MarkFailed переводит запись в терминальный failed.
func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string) error {
	return r.setStatus(id, domain.OutboxStatusFailed)
}

// Requeue возвращает failed-запись в ready.
func (r *outboxRepositoryInMemory) Requeue(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok || record.Status != domain.OutboxStatusFailed {
		return domain.ErrOutboxPublish
	}
	record.Status = domain.OutboxStatusReady
	record.RetryCount = 0
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementRetry наращивает счётчик попыток публикации.
func (r *outboxRepositoryInMemory) IncrementRetry(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return 0, domain.ErrOutboxPublish
	}
	record.RetryCount++
	record.UpdatedAt = time.Now().UTC()
	return record.RetryCount, nil
}

// Stats возвращает состояние backlog.
func (r *outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range r.records {
		switch rec.Status {
		case domain.OutboxStatusReady:
			stats.ReadyCount++
			if stats.OldestReadyAt.IsZero() || rec.CreatedAt.Before(stats.OldestReadyAt) {
				stats.OldestReadyAt = rec.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *outboxRepositoryInMemory) setStatus(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// All возвращает копию всех записей (используется в тестах).
func (r *outboxRepositoryInMemory) All() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, len(r.records))
	for _, rec := range r.records {
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
