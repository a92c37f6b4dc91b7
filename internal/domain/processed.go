package domain

import "time"

// ProcessedEvent фиксирует факт обработки события consumer-ом.
// Проверка existsByEventId выполняется до любого side effect обработчика,
// а вставка — в той же транзакции, что и сам side effect. Это закрывает
// окно между crash-ем после эффекта и записью отметки.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// Validate проверяет обязательные поля отметки об обработке.
func (e *ProcessedEvent) Validate() []error {
	var errs []error

	if e.EventID == "" {
		errs = append(errs, ErrEventIDRequired)
	}
	if e.EventType == "" {
		errs = append(errs, ErrEventTypeRequired)
	}

	return errs
}
