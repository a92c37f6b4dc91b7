package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType определяет тип события или команды на шине.
type EventType string

const (
	// Входящие события (внешние сервисы → saga координатор).
	EventTypeOrderCreated      EventType = "OrderCreated"
	EventTypeOrderApproved     EventType = "OrderApproved"
	EventTypeOrderCancelled    EventType = "OrderCancelled"
	EventTypePaymentCompleted  EventType = "PaymentCompleted"
	EventTypePaymentFailed     EventType = "PaymentFailed"
	EventTypeDeliveryCompleted EventType = "DeliveryCompleted"

	// Исходящие события резервирования.
	EventTypeStockReserved             EventType = "StockReservedEvent"
	EventTypeStockReservationFailed    EventType = "StockReservationFailedEvent"
	EventTypeStockConfirmed            EventType = "StockConfirmedEvent"
	EventTypeStockReservationCancelled EventType = "StockReservationCancelledEvent"

	EventTypeCouponReserved             EventType = "CouponReservedEvent"
	EventTypeCouponReservationFailed    EventType = "CouponReservationFailedEvent"
	EventTypeCouponConfirmed            EventType = "CouponConfirmedEvent"
	EventTypeCouponReservationCancelled EventType = "CouponReservationCancelledEvent"

	EventTypePointReserved             EventType = "PointReservedEvent"
	EventTypePointReservationFailed    EventType = "PointReservationFailedEvent"
	EventTypePointConfirmed            EventType = "PointConfirmedEvent"
	EventTypePointReservationCancelled EventType = "PointReservationCancelledEvent"

	// Исходящие события координатора.
	EventTypeDeliveryCreated EventType = "DeliveryCreatedEvent"
	EventTypeOrderFailed     EventType = "OrderFailedEvent"
	EventTypeOrderCompleted  EventType = "OrderCompletedEvent"

	// Команды резервирования (координатор → сервисы резервов).
	CommandReserveStock  EventType = "ReserveStock"
	CommandConfirmStock  EventType = "ConfirmStock"
	CommandCancelStock   EventType = "CancelStock"
	CommandReserveCoupon EventType = "ReserveCoupon"
	CommandConfirmCoupon EventType = "ConfirmCoupon"
	CommandCancelCoupon  EventType = "CancelCoupon"
	CommandReservePoint  EventType = "ReservePoint"
	CommandConfirmPoint  EventType = "ConfirmPoint"
	CommandCancelPoint   EventType = "CancelPoint"
)

// Topics для Kafka.
const (
	TopicOrderEvents         = "fulfillment.order.events"
	TopicStockEvents         = "fulfillment.stock.events"
	TopicCouponEvents        = "fulfillment.coupon.events"
	TopicPointEvents         = "fulfillment.point.events"
	TopicPaymentEvents       = "fulfillment.payment.events"
	TopicDeliveryEvents      = "fulfillment.delivery.events"
	TopicReservationCommands = "fulfillment.reservation.commands"
	TopicDeadLetterQueue     = "fulfillment.dlq"
)

// Kafka headers для retry логики consumer-а.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — единый конверт события на шине. EventID глобально уникален и
// служит ключом дедупликации; AggregateID используется как partition key,
// поэтому порядок гарантирован только внутри одного агрегата.
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope собирает конверт с новым EventID.
func NewEnvelope(eventType EventType, aggregateType, aggregateID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
	}, nil
}

// Marshal сериализует конверт в JSON для отправки на шину.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return data, nil
}

// ParseEnvelope разбирает конверт из тела сообщения.
func ParseEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.EventID == "" {
		return Envelope{}, fmt.Errorf("event envelope without event_id")
	}
	return env, nil
}

// ReservationCommand — полезная нагрузка команд Reserve*/Confirm*/Cancel*.
type ReservationCommand struct {
	OrderID        string `json:"order_id"`
	ResourceID     string `json:"resource_id"`
	ReservationKey string `json:"reservation_key"`
	Quantity       int64  `json:"quantity,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// ReservationResult — полезная нагрузка событий резервирования.
type ReservationResult struct {
	OrderID        string `json:"order_id"`
	ResourceID     string `json:"resource_id"`
	ReservationKey string `json:"reservation_key"`
	Quantity       int64  `json:"quantity,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// OrderEventPayload — полезная нагрузка событий заказа.
type OrderEventPayload struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id,omitempty"`
	ProductID   string `json:"product_id,omitempty"`
	Quantity    int64  `json:"quantity,omitempty"`
	CouponID    string `json:"coupon_id,omitempty"`
	PointAmount int64  `json:"point_amount,omitempty"`
	AmountMinor int64  `json:"amount_minor,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// DecodePayload разбирает полезную нагрузку конверта в target.
func (e Envelope) DecodePayload(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.EventID)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("unmarshal payload of %s: %w", e.EventType, err)
	}
	return nil
}
