package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, выбирая topic
// по типу агрегата.
type OutboxTopicPublisher struct {
	producer *Producer
	routes   map[string]string
	fallback string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Неизвестные типы агрегатов уходят в topic заказов.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{
		producer: producer,
		routes: map[string]string{
			"order":       TopicOrderEvents,
			"stock":       TopicStockEvents,
			"coupon":      TopicCouponEvents,
			"point":       TopicPointEvents,
			"payment":     TopicPaymentEvents,
			"delivery":    TopicDeliveryEvents,
			"reservation": TopicReservationCommands,
		},
		fallback: TopicOrderEvents,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	topic, ok := p.routes[event.AggregateType]
	if !ok {
		topic = p.fallback
	}

	env := Envelope{
		EventID:       event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     EventType(event.EventType),
		OccurredAt:    event.CreatedAt.UTC(),
		Payload:       json.RawMessage(event.Payload),
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	return p.producer.Publish(topic, key, data)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// dlqPublisher отправляет сообщения в общий DLQ topic. Payload приходит
// уже обёрнутым метаданными сбоя, поэтому публикуется как есть.
type dlqPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт publisher для dead letter queue.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &dlqPublisher{producer: producer}
}

func (p *dlqPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	return p.producer.Publish(TopicDeadLetterQueue, key, event.Payload)
}

var _ domain.OutboxPublisher = (*dlqPublisher)(nil)
