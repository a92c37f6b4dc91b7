package domain

import "time"

// Resource — счётчики доступности одного резервируемого ресурса (SKU, купон,
// баллы клиента). Поля Available/Reserved/Confirmed меняются только через
// reservation state machine; прямые записи извне запрещены.
type Resource struct {
	ID   string
	Kind ReservationKind
	// Available — свободный остаток, доступный новым резервированиям.
	Available int64
	// Reserved — суммарно удержано активными резервами.
	Reserved int64
	// Confirmed — списано насовсем подтверждёнными резервами.
	Confirmed int64
	// Version используется для optimistic locking строки.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reserve переносит qty из свободного остатка в удержанный.
func (r *Resource) Reserve(qty int64) error {
	if qty <= 0 {
		return ErrReservationQtyInvalid
	}
	if r.Available < qty {
		return ErrInsufficientResource
	}
	r.Available -= qty
	r.Reserved += qty
	return nil
}

// ConfirmReserved списывает qty из удержанного остатка насовсем.
func (r *Resource) ConfirmReserved(qty int64) error {
	if qty <= 0 {
		return ErrReservationQtyInvalid
	}
	if r.Reserved < qty {
		return ErrReservationStale
	}
	r.Reserved -= qty
	r.Confirmed += qty
	return nil
}

// ReleaseReserved возвращает qty из удержанного остатка в свободный пул.
func (r *Resource) ReleaseReserved(qty int64) error {
	if qty <= 0 {
		return ErrReservationQtyInvalid
	}
	if r.Reserved < qty {
		return ErrReservationStale
	}
	r.Reserved -= qty
	r.Available += qty
	return nil
}
