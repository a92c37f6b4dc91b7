package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderTransitionInvalid — недопустимый переход статуса заказа.
	ErrOrderTransitionInvalid = errors.New("invalid order status transition")

	// ErrReservationNotFound — резервирование с таким ключом не существует.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrReservationConflict — повторный запрос с тем же ключом, но другим количеством.
	ErrReservationConflict = errors.New("reservation key conflict")
	// ErrReservationConfirmed — попытка отменить уже подтверждённое резервирование.
	ErrReservationConfirmed = errors.New("reservation already confirmed")
	// ErrReservationCancelled — попытка подтвердить уже отменённое резервирование.
	ErrReservationCancelled = errors.New("reservation already cancelled")
	// ErrReservationStale — условный переход статуса не сработал (конкурентное обновление).
	ErrReservationStale = errors.New("reservation state changed concurrently")

	// ErrInsufficientResource — недостаточно свободного остатка (сток/купон/баллы).
	ErrInsufficientResource = errors.New("insufficient resource availability")
	// ErrResourceNotFound — ресурс не найден.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceVersionConflict — optimistic lock на строке ресурса не сошёлся.
	ErrResourceVersionConflict = errors.New("resource version conflict")

	// ErrEventAlreadyProcessed — событие уже обработано (dedup gate).
	ErrEventAlreadyProcessed = errors.New("event already processed")

	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")

	// ErrCircuitOpen — circuit breaker открыт, зависимость недоступна.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrLockNotAcquired — distributed lock не взят за отведённый waitTime.
	ErrLockNotAcquired = errors.New("distributed lock not acquired")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка отсутствующего идентификатора события.
	ErrEventIDRequired = errors.New("event_id is required")
	// Ошибка отсутствующего типа события.
	ErrEventTypeRequired = errors.New("event_type is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего ключа резервирования.
	ErrReservationKeyRequired = errors.New("reservation_key is required")
	// Ошибка отсутствующего идентификатора ресурса.
	ErrResourceIDRequired = errors.New("resource_id is required")
	// Ошибка некорректного количества в резерве.
	ErrReservationQtyInvalid = errors.New("reservation quantity must be greater than zero")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка некорректного количества товара в заказе.
	ErrOrderQtyInvalid = errors.New("order quantity must be greater than zero")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrResourceVersionConflict)
}

// IsDomainFailure отличает ожидаемые доменные исходы от инфраструктурных сбоев.
// Доменные исходы считаются обработанными: consumer фиксирует событие в dedup
// store и не провоцирует повторную доставку. Инфраструктурные ошибки, напротив,
// должны привести к redelivery.
func IsDomainFailure(err error) bool {
	switch {
	case errors.Is(err, ErrReservationConflict),
		errors.Is(err, ErrReservationConfirmed),
		errors.Is(err, ErrReservationCancelled),
		errors.Is(err, ErrInsufficientResource),
		errors.Is(err, ErrPaymentDeclined),
		errors.Is(err, ErrOrderTransitionInvalid),
		errors.Is(err, ErrEventAlreadyProcessed):
		return true
	default:
		return false
	}
}
