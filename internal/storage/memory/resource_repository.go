package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// resourceRepositoryInMemory — in-memory хранилище счётчиков ресурсов
// с optimistic locking по Version.
type resourceRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Resource
}

// NewResourceRepository возвращает in-memory репозиторий ресурсов.
func NewResourceRepository() *resourceRepositoryInMemory {
	return &resourceRepositoryInMemory{items: make(map[string]domain.Resource)}
}

func resourceIndex(kind domain.ReservationKind, id string) string {
	return string(kind) + "/" + id
}

// Create сохраняет новый ресурс, если ID ещё не занят.
func (r *resourceRepositoryInMemory) Create(_ context.Context, resource domain.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := resourceIndex(resource.Kind, resource.ID)
	if _, exists := r.items[idx]; exists {
		return domain.ErrResourceVersionConflict
	}
	now := time.Now().UTC()
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = now
	}
	resource.UpdatedAt = now
	r.items[idx] = resource
	return nil
}

// Get возвращает ресурс или ErrResourceNotFound, если его нет.
func (r *resourceRepositoryInMemory) Get(_ context.Context, kind domain.ReservationKind, id string) (domain.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resource, ok := r.items[resourceIndex(kind, id)]
	if !ok {
		return domain.Resource{}, domain.ErrResourceNotFound
	}
	return resource, nil
}

// Save перезаписывает ресурс, проверяя версию (optimistic locking).
func (r *resourceRepositoryInMemory) Save(_ context.Context, resource domain.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := resourceIndex(resource.Kind, resource.ID)
	current, ok := r.items[idx]
	if !ok {
		return domain.ErrResourceNotFound
	}
	if current.Version != resource.Version {
		return domain.ErrResourceVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	resource.Version++
	resource.UpdatedAt = time.Now().UTC()
	r.items[idx] = resource
	return nil
}

var _ domain.ResourceRepository = (*resourceRepositoryInMemory)(nil)
