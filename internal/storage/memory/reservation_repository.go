package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// reservationRepositoryInMemory — in-memory хранилище резервирований.
// Уникальность пары (kind, reservationKey) воспроизводит unique index в БД.
type reservationRepositoryInMemory struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Reservation
	byKey map[string]string
}

// NewReservationRepository создаёт in-memory реализацию ReservationRepository.
func NewReservationRepository() *reservationRepositoryInMemory {
	return &reservationRepositoryInMemory{
		byID:  make(map[string]*domain.Reservation),
		byKey: make(map[string]string),
	}
}

func keyIndex(kind domain.ReservationKind, key string) string {
	return string(kind) + "/" + key
}

// Create сохраняет новое резервирование, если ключ ещё не занят.
func (r *reservationRepositoryInMemory) Create(_ context.Context, reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := keyIndex(reservation.Kind, reservation.ReservationKey)
	if _, exists := r.byKey[idx]; exists {
		return domain.ErrReservationConflict
	}

	if reservation.ID == "" {
		reservation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now

	stored := reservation
	r.byID[reservation.ID] = &stored
	r.byKey[idx] = reservation.ID
	return nil
}

// GetByKey возвращает резервирование по идемпотентному ключу.
func (r *reservationRepositoryInMemory) GetByKey(_ context.Context, kind domain.ReservationKind, key string) (domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[keyIndex(kind, key)]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return *r.byID[id], nil
}

// UpdateStatus выполняет условный переход from → to.
func (r *reservationRepositoryInMemory) UpdateStatus(_ context.Context, id string, from, to domain.ReservationStatus, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byID[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if record.Status != from {
		return domain.ErrReservationStale
	}
	record.Status = to
	record.UpdatedAt = now
	return nil
}

// ListExpired возвращает reserved-резервы с истёкшим TTL, старые первыми.
func (r *reservationRepositoryInMemory) ListExpired(_ context.Context, kind domain.ReservationKind, before time.Time, limit int) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.Reservation, 0, limit)
	for _, rec := range r.byID {
		if rec.Kind != kind || rec.Status != domain.ReservationStatusReserved {
			continue
		}
		if rec.ExpiresAt.IsZero() || !rec.ExpiresAt.Before(before) {
			continue
		}
		result = append(result, *rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.ReservationRepository = (*reservationRepositoryInMemory)(nil)
