package saga

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/dedup"
)

// Handler принимает события саги с шины и прогоняет их через dedup gate:
// at-least-once доставка брокера превращается в exactly-once эффект.
type Handler struct {
	gate        *dedup.Gate
	coordinator *Coordinator
	logger      *log.Entry
}

// NewHandler создаёт обработчик событий саги.
func NewHandler(gate *dedup.Gate, coordinator *Coordinator) *Handler {
	return &Handler{
		gate:        gate,
		coordinator: coordinator,
		logger:      log.WithField("component", "saga-handler"),
	}
}

// HandleEnvelope обрабатывает один конверт события.
func (h *Handler) HandleEnvelope(ctx context.Context, env kafka.Envelope) error {
	h.logger.WithFields(log.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"order_id":   env.AggregateID,
	}).Debug("saga event received")

	return h.gate.Process(ctx, env.EventID, string(env.EventType), func(ctx context.Context) error {
		return h.coordinator.HandleEnvelope(ctx, env)
	})
}
