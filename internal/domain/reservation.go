package domain

import "time"

// ReservationKind различает виды резервируемых ресурсов.
type ReservationKind string

const (
	// ReservationKindStock — резерв складского остатка под позицию заказа.
	ReservationKindStock ReservationKind = "stock"
	// ReservationKindCoupon — резерв купона (лимит выдачи общий на всех).
	ReservationKindCoupon ReservationKind = "coupon"
	// ReservationKindPoint — резерв бонусных баллов клиента.
	ReservationKindPoint ReservationKind = "point"
)

// ReservationStatus отражает состояние резервирования.
type ReservationStatus string

const (
	// ReservationStatusReserved — ресурс удержан, ждём подтверждения или отмены.
	ReservationStatusReserved ReservationStatus = "reserved"
	// ReservationStatusConfirmed — удержание подтверждено, ресурс списан насовсем.
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	// ReservationStatusCancelled — удержание снято, остаток возвращён в пул.
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Terminal сообщает, является ли статус конечным.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusConfirmed || s == ReservationStatusCancelled
}

// Reservation описывает временное удержание конечного ресурса под заказ.
// ReservationKey — идемпотентный ключ вызывающей стороны: один ключ
// соответствует максимум одному резервированию.
type Reservation struct {
	ID             string
	Kind           ReservationKind
	ResourceID     string
	OrderID        string
	ReservationKey string
	Quantity       int64
	Status         ReservationStatus
	// ExpiresAt задаёт TTL резерва; нулевое значение отключает авто-истечение.
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет, корректно ли заполнены ключевые поля резервирования.
func (r *Reservation) Validate() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.ReservationKey == "" {
		errs = append(errs, ErrReservationKeyRequired)
	}
	if r.ResourceID == "" {
		errs = append(errs, ErrResourceIDRequired)
	}
	if r.Quantity <= 0 {
		errs = append(errs, ErrReservationQtyInvalid)
	}

	return errs
}

// CanTransition проверяет допустимость перехода резервирования в target.
// Повторный переход в уже достигнутый терминальный статус допустим (no-op),
// переход между терминальными статусами — нет.
func (r *Reservation) CanTransition(target ReservationStatus) error {
	if r.Status == target {
		return nil
	}
	switch r.Status {
	case ReservationStatusReserved:
		return nil
	case ReservationStatusConfirmed:
		return ErrReservationConfirmed
	case ReservationStatusCancelled:
		return ErrReservationCancelled
	default:
		return ErrReservationStale
	}
}

// Expired сообщает, истёк ли TTL резерва к моменту now.
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == ReservationStatusReserved && !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}
