package domain

import "time"

// OutboxStatus описывает жизненный цикл записи transactional outbox.
type OutboxStatus string

const (
	// OutboxStatusReady — запись создана и ожидает публикации.
	OutboxStatusReady OutboxStatus = "ready"
	// OutboxStatusSent — запись успешно опубликована в брокер.
	OutboxStatusSent OutboxStatus = "sent"
	// OutboxStatusFailed — публикация не удалась после исчерпания retry.
	// Терминальный статус, требует вмешательства оператора (cmd/outbox-requeue).
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage хранит доменное событие, записанное в той же локальной
// транзакции, что и изменение бизнес-состояния, которое оно описывает.
// Записи никогда не удаляются: outbox служит append-only журналом для аудита.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	ReadyCount    int
	FailedCount   int
	OldestReadyAt time.Time
}
