package reservation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/dedup"
)

// commandActions сопоставляет команде вид ресурса и действие.
var commandActions = map[kafka.EventType]struct {
	kind   domain.ReservationKind
	action string
}{
	kafka.CommandReserveStock:  {domain.ReservationKindStock, "reserve"},
	kafka.CommandConfirmStock:  {domain.ReservationKindStock, "confirm"},
	kafka.CommandCancelStock:   {domain.ReservationKindStock, "cancel"},
	kafka.CommandReserveCoupon: {domain.ReservationKindCoupon, "reserve"},
	kafka.CommandConfirmCoupon: {domain.ReservationKindCoupon, "confirm"},
	kafka.CommandCancelCoupon:  {domain.ReservationKindCoupon, "cancel"},
	kafka.CommandReservePoint:  {domain.ReservationKindPoint, "reserve"},
	kafka.CommandConfirmPoint:  {domain.ReservationKindPoint, "confirm"},
	kafka.CommandCancelPoint:   {domain.ReservationKindPoint, "cancel"},
}

// Handler принимает команды резервирования с шины и исполняет их через
// dedup gate: повторная доставка команды не трогает счётчики второй раз.
type Handler struct {
	gate    *dedup.Gate
	service *Service
	logger  *log.Entry
}

// NewHandler создаёт обработчик команд резервирования.
func NewHandler(gate *dedup.Gate, service *Service) *Handler {
	return &Handler{
		gate:    gate,
		service: service,
		logger:  log.WithField("component", "reservation-handler"),
	}
}

// HandleEnvelope обрабатывает один конверт с командой. Неизвестный тип
// команды — ошибка: конверт уйдёт в DLQ после исчерпания retry у consumer-а.
func (h *Handler) HandleEnvelope(ctx context.Context, env kafka.Envelope) error {
	cmd, ok := commandActions[env.EventType]
	if !ok {
		return fmt.Errorf("unknown reservation command %q", env.EventType)
	}

	var payload kafka.ReservationCommand
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	h.logger.WithFields(log.Fields{
		"event_id":        env.EventID,
		"command":         env.EventType,
		"order_id":        payload.OrderID,
		"reservation_key": payload.ReservationKey,
	}).Debug("reservation command received")

	return h.gate.Process(ctx, env.EventID, string(env.EventType), func(ctx context.Context) error {
		switch cmd.action {
		case "reserve":
			_, err := h.service.Reserve(ctx, ReserveRequest{
				Kind:           cmd.kind,
				ResourceID:     payload.ResourceID,
				OrderID:        payload.OrderID,
				ReservationKey: payload.ReservationKey,
				Quantity:       payload.Quantity,
			})
			return err
		case "confirm":
			return h.service.Confirm(ctx, cmd.kind, payload.ReservationKey)
		case "cancel":
			return h.service.Cancel(ctx, cmd.kind, payload.ReservationKey, payload.Reason)
		default:
			return fmt.Errorf("unknown reservation action %q", cmd.action)
		}
	})
}
