package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// processedRepositoryInMemory — in-memory dedup store обработанных событий.
type processedRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string]domain.ProcessedEvent
}

// NewProcessedEventRepository создаёт in-memory реализацию dedup store.
func NewProcessedEventRepository() *processedRepositoryInMemory {
	return &processedRepositoryInMemory{records: make(map[string]domain.ProcessedEvent)}
}

// Exists проверяет, обработано ли событие.
func (r *processedRepositoryInMemory) Exists(_ context.Context, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.records[eventID]
	return ok, nil
}

// Record сохраняет отметку об обработке.
func (r *processedRepositoryInMemory) Record(_ context.Context, event domain.ProcessedEvent) error {
	if errs := event.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[event.EventID]; ok {
		return domain.ErrEventAlreadyProcessed
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}
	r.records[event.EventID] = event
	return nil
}

// DeleteOlderThan удаляет до limit отметок старше before.
func (r *processedRepositoryInMemory) DeleteOlderThan(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, rec := range r.records {
		if limit > 0 && deleted >= limit {
			break
		}
		if rec.ProcessedAt.Before(before) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ domain.ProcessedEventRepository = (*processedRepositoryInMemory)(nil)
