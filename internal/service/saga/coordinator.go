package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// reserveCommands сопоставляет шагу резервирования команду Reserve*.
var reserveCommands = map[domain.SagaStep]kafka.EventType{
	domain.SagaStepStock:  kafka.CommandReserveStock,
	domain.SagaStepCoupon: kafka.CommandReserveCoupon,
	domain.SagaStepPoint:  kafka.CommandReservePoint,
}

// confirmCommands сопоставляет шагу команду Confirm*.
var confirmCommands = map[domain.SagaStep]kafka.EventType{
	domain.SagaStepStock:  kafka.CommandConfirmStock,
	domain.SagaStepCoupon: kafka.CommandConfirmCoupon,
	domain.SagaStepPoint:  kafka.CommandConfirmPoint,
}

// cancelCommands сопоставляет шагу команду Cancel*.
var cancelCommands = map[domain.SagaStep]kafka.EventType{
	domain.SagaStepStock:  kafka.CommandCancelStock,
	domain.SagaStepCoupon: kafka.CommandCancelCoupon,
	domain.SagaStepPoint:  kafka.CommandCancelPoint,
}

// reservedEvents сопоставляет событию успешного резерва его шаг.
var reservedEvents = map[kafka.EventType]domain.SagaStep{
	kafka.EventTypeStockReserved:  domain.SagaStepStock,
	kafka.EventTypeCouponReserved: domain.SagaStepCoupon,
	kafka.EventTypePointReserved:  domain.SagaStepPoint,
}

// failedEvents сопоставляет событию провала резерва его шаг.
var failedEvents = map[kafka.EventType]domain.SagaStep{
	kafka.EventTypeStockReservationFailed:  domain.SagaStepStock,
	kafka.EventTypeCouponReservationFailed: domain.SagaStepCoupon,
	kafka.EventTypePointReservationFailed:  domain.SagaStepPoint,
}

// Coordinator — saga-хореограф заказа. Владеет только статусом заказа:
// реагирует на события с шины, продвигает state machine и эмитит команды
// следующих шагов через transactional outbox. Прямой записи в чужие
// агрегаты (резервы, платежи) у координатора нет.
type Coordinator struct {
	tx       domain.TxManager
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	payments domain.PaymentService
	clock    domain.Clock
	logger   *log.Entry
	metrics  *metrics.SagaMetrics
}

// CoordinatorOptions задаёт параметры координатора.
type CoordinatorOptions struct {
	Logger  *log.Entry
	Metrics *metrics.SagaMetrics
}

// CoordinatorOption настраивает Coordinator.
type CoordinatorOption func(*CoordinatorOptions)

// WithLogger задаёт logger для координатора.
func WithLogger(logger *log.Entry) CoordinatorOption {
	return func(opts *CoordinatorOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики координатора; nil отключает их (для тестов).
func WithMetrics(m *metrics.SagaMetrics) CoordinatorOption {
	return func(opts *CoordinatorOptions) {
		opts.Metrics = m
	}
}

// NewCoordinator создаёт saga-координатор.
func NewCoordinator(
	tx domain.TxManager,
	orders domain.OrderRepository,
	outbox domain.OutboxRepository,
	payments domain.PaymentService,
	clock domain.Clock,
	options ...CoordinatorOption,
) *Coordinator {
	opts := CoordinatorOptions{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "saga-coordinator")
	}
	if clock == nil {
		clock = domain.SystemClock()
	}

	return &Coordinator{
		tx:       tx,
		orders:   orders,
		outbox:   outbox,
		payments: payments,
		clock:    clock,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// PlaceOrder принимает новый заказ: создаёт его в статусе placed и эмитит
// команду первого резервирования — обе записи в одной транзакции.
func (c *Coordinator) PlaceOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := c.clock.Now().UTC()
	order.Status = domain.OrderStatusPlaced
	order.Version = 0
	order.CreatedAt = now
	order.UpdatedAt = now

	err := c.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := c.orders.Create(ctx, order); err != nil {
			return err
		}
		firstStep := order.ReservationSteps()[0]
		return c.emitReservationCommand(ctx, &order, reserveCommands[firstStep], firstStep, "")
	})
	if err != nil {
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordSagaStarted()
	}
	c.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"steps":       order.ReservationSteps(),
	}).Info("order placed, saga started")
	return order, nil
}

// HandleEnvelope обрабатывает одно событие с шины. Вызывается consumer-ом
// внутри dedup gate: транзакция обработчика уже открыта, отметка processed
// коммитится вместе с изменениями заказа.
func (c *Coordinator) HandleEnvelope(ctx context.Context, env kafka.Envelope) error {
	if step, ok := reservedEvents[env.EventType]; ok {
		return c.handleStepReserved(ctx, env, step)
	}
	if step, ok := failedEvents[env.EventType]; ok {
		return c.handleStepFailed(ctx, env, step)
	}

	switch env.EventType {
	case kafka.EventTypeOrderCreated:
		return c.handleOrderCreated(ctx, env)
	case kafka.EventTypeOrderApproved:
		return c.handleOrderApproved(ctx, env)
	case kafka.EventTypeOrderCancelled:
		return c.handleOrderCancelled(ctx, env)
	case kafka.EventTypePaymentCompleted:
		return c.handlePaymentCompleted(ctx, env)
	case kafka.EventTypePaymentFailed:
		return c.handlePaymentFailed(ctx, env)
	case kafka.EventTypeDeliveryCompleted:
		return c.handleDeliveryCompleted(ctx, env)
	default:
		return fmt.Errorf("unexpected event type %q", env.EventType)
	}
}

func (c *Coordinator) handleOrderCreated(ctx context.Context, env kafka.Envelope) error {
	var payload kafka.OrderEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	if _, err := c.orders.Get(ctx, payload.OrderID); err == nil {
		c.logger.WithField("order_id", payload.OrderID).Debug("order already exists, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}

	order := domain.Order{
		ID:          payload.OrderID,
		CustomerID:  payload.CustomerID,
		ProductID:   payload.ProductID,
		Quantity:    payload.Quantity,
		CouponID:    payload.CouponID,
		PointAmount: payload.PointAmount,
		AmountMinor: payload.AmountMinor,
		Currency:    payload.Currency,
	}
	_, err := c.PlaceOrder(ctx, order)
	return err
}

// handleOrderApproved возобновляет сагу с текущего шага. Команды шагов
// идемпотентны по reservation key, так что повторная выдача безопасна.
func (c *Coordinator) handleOrderApproved(ctx context.Context, env kafka.Envelope) error {
	var payload kafka.OrderEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		return c.advanceSaga(ctx, &order)
	})
}

func (c *Coordinator) handleStepReserved(ctx context.Context, env kafka.Envelope, step domain.SagaStep) error {
	var payload kafka.ReservationResult
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordStepEvent(string(step), "ok")
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			// Сага уже завершилась: опоздавший резерв снимет sweeper по TTL
			// либо компенсация уже отдала команду Cancel.
			c.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"status":   order.Status,
				"step":     step,
			}).Debug("reserved event for finished saga, skipping")
			return nil
		}

		target := domain.StatusAfterStep(step)
		if order.Status == target {
			c.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"step":     step,
			}).Debug("step already applied, skipping")
			return nil
		}
		if err := c.saveTransition(ctx, &order, target); err != nil {
			return err
		}
		return c.advanceSaga(ctx, &order)
	})
}

func (c *Coordinator) handleStepFailed(ctx context.Context, env kafka.Envelope, step domain.SagaStep) error {
	var payload kafka.ReservationResult
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordStepEvent(string(step), "failed")
	}

	reason := payload.Reason
	if reason == "" {
		reason = fmt.Sprintf("%s reservation failed", step)
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusCanceled {
			return nil
		}
		return c.compensate(ctx, &order, reason)
	})
}

// handleOrderCancelled обрабатывает внешний запрос на отмену. Отмена
// допустима до отгрузки; после shipped заказ уже не остановить.
func (c *Coordinator) handleOrderCancelled(ctx context.Context, env kafka.Envelope) error {
	var payload kafka.OrderEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	reason := payload.Reason
	if reason == "" {
		reason = "canceled by request"
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case domain.OrderStatusCanceled:
			return nil
		case domain.OrderStatusShipped, domain.OrderStatusDelivered:
			c.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"status":   order.Status,
			}).Warn("cancel rejected: order already shipped")
			return domain.ErrOrderTransitionInvalid
		}
		return c.compensate(ctx, &order, reason)
	})
}

func (c *Coordinator) handlePaymentCompleted(ctx context.Context, env kafka.Envelope) error {
	var payload kafka.OrderEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordStepEvent(string(domain.SagaStepPayment), "ok")
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case domain.OrderStatusPaymentApproved, domain.OrderStatusShipped, domain.OrderStatusDelivered:
			return nil
		case domain.OrderStatusCanceled:
			// Платёж подтвердился после компенсации: возвращаем средства.
			c.logger.WithField("order_id", order.ID).Warn("payment completed for canceled order, refunding")
			return c.payments.Refund(ctx, order.ID, order.AmountMinor, order.Currency)
		}
		return c.finishPayment(ctx, &order)
	})
}

func (c *Coordinator) handlePaymentFailed(ctx context.Context, env kafka.Envelope) error {
	var payload kafka.OrderEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordStepEvent(string(domain.SagaStepPayment), "failed")
	}

	reason := payload.Reason
	if reason == "" {
		reason = "payment failed"
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return nil
		}
		return c.compensate(ctx, &order, reason)
	})
}

func (c *Coordinator) handleDeliveryCompleted(ctx context.Context, env kafka.Envelope) error {
	var payload kafka.OrderEventPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordStepEvent(string(domain.SagaStepDelivery), "ok")
	}

	return c.tx.WithTx(ctx, func(ctx context.Context) error {
		order, err := c.orders.Get(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		if order.Status == domain.OrderStatusDelivered {
			return nil
		}
		if err := c.saveTransition(ctx, &order, domain.OrderStatusDelivered); err != nil {
			return err
		}

		if err := c.emitOrderEvent(ctx, &order, kafka.EventTypeOrderCompleted, ""); err != nil {
			return err
		}

		if c.metrics != nil {
			c.metrics.RecordSagaCompleted()
			c.metrics.RecordSagaDuration(c.clock.Now().UTC().Sub(order.CreatedAt))
		}
		c.logger.WithField("order_id", order.ID).Info("order delivered, saga completed")
		return nil
	})
}

// advanceSaga выдаёт команду следующего шага для текущего статуса заказа.
func (c *Coordinator) advanceSaga(ctx context.Context, order *domain.Order) error {
	step, ok := order.NextStep()
	if !ok {
		return nil
	}
	if step == domain.SagaStepPayment {
		return c.approvePayment(ctx, order)
	}
	return c.emitReservationCommand(ctx, order, reserveCommands[step], step, "")
}

// approvePayment вызывает платёжного провайдера синхронно. Отклонённый
// платёж — доменный исход и запускает компенсацию; временный сбой или
// открытый circuit breaker пробрасываются наружу, чтобы брокер повторил
// событие позже.
func (c *Coordinator) approvePayment(ctx context.Context, order *domain.Order) error {
	err := c.payments.Approve(ctx, order.ID, order.AmountMinor, order.Currency)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentDeclined) {
			if c.metrics != nil {
				c.metrics.RecordStepEvent(string(domain.SagaStepPayment), "failed")
			}
			return c.compensate(ctx, order, "payment declined")
		}
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("payment approval unavailable, will retry")
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordStepEvent(string(domain.SagaStepPayment), "ok")
	}
	return c.finishPayment(ctx, order)
}

// finishPayment фиксирует оплату: подтверждает резервы, создаёт доставку
// и переводит заказ в shipped.
func (c *Coordinator) finishPayment(ctx context.Context, order *domain.Order) error {
	if err := c.saveTransition(ctx, order, domain.OrderStatusPaymentApproved); err != nil {
		return err
	}

	for _, step := range order.ReservationSteps() {
		if err := c.emitReservationCommand(ctx, order, confirmCommands[step], step, ""); err != nil {
			return err
		}
	}

	if err := c.emitDeliveryCreated(ctx, order); err != nil {
		return err
	}
	return c.saveTransition(ctx, order, domain.OrderStatusShipped)
}

// compensate откатывает сагу: отменяет выполненные резервы в обратном
// порядке, возвращает оплату при необходимости и закрывает заказ.
func (c *Coordinator) compensate(ctx context.Context, order *domain.Order, reason string) error {
	steps := order.CompletedReservationSteps()
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := c.emitReservationCommand(ctx, order, cancelCommands[step], step, reason); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.RecordStepEvent(string(step), "compensated")
		}
	}

	if order.Status == domain.OrderStatusPaymentApproved {
		if err := c.payments.Refund(ctx, order.ID, order.AmountMinor, order.Currency); err != nil {
			return fmt.Errorf("refund during compensation: %w", err)
		}
		if c.metrics != nil {
			c.metrics.RecordStepEvent(string(domain.SagaStepPayment), "compensated")
		}
	}

	order.ErrorReason = reason
	if err := c.saveTransition(ctx, order, domain.OrderStatusCanceled); err != nil {
		return err
	}

	if err := c.emitOrderEvent(ctx, order, kafka.EventTypeOrderFailed, reason); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordSagaCompensated()
		c.metrics.RecordSagaDuration(c.clock.Now().UTC().Sub(order.CreatedAt))
	}
	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
		"steps":    steps,
	}).Info("saga compensated, order canceled")
	return nil
}

// saveTransition валидирует переход и сохраняет заказ с учётом optimistic
// locking. Конфликт версии пробрасывается: partition key шины сериализует
// события одного заказа, поэтому конфликт значит чужую запись и требует
// redelivery.
func (c *Coordinator) saveTransition(ctx context.Context, order *domain.Order, target domain.OrderStatus) error {
	if err := order.Advance(target, c.clock.Now().UTC()); err != nil {
		return err
	}
	if err := c.orders.Save(ctx, *order); err != nil {
		return err
	}
	order.Version++

	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Debug("order status advanced")
	return nil
}

func (c *Coordinator) emitReservationCommand(ctx context.Context, order *domain.Order, command kafka.EventType, step domain.SagaStep, reason string) error {
	payload := kafka.ReservationCommand{
		OrderID:        order.ID,
		ReservationKey: fmt.Sprintf("%s:%s", order.ID, step),
		Reason:         reason,
	}
	switch step {
	case domain.SagaStepStock:
		payload.ResourceID = order.ProductID
		payload.Quantity = order.Quantity
	case domain.SagaStepCoupon:
		payload.ResourceID = order.CouponID
		payload.Quantity = 1
	case domain.SagaStepPoint:
		payload.ResourceID = order.CustomerID
		payload.Quantity = order.PointAmount
	default:
		return fmt.Errorf("step %q has no reservation command", step)
	}

	return c.enqueue(ctx, "reservation", order.ID, command, payload)
}

func (c *Coordinator) emitDeliveryCreated(ctx context.Context, order *domain.Order) error {
	return c.enqueue(ctx, "delivery", order.ID, kafka.EventTypeDeliveryCreated, kafka.OrderEventPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		ProductID:  order.ProductID,
		Quantity:   order.Quantity,
	})
}

func (c *Coordinator) emitOrderEvent(ctx context.Context, order *domain.Order, eventType kafka.EventType, reason string) error {
	return c.enqueue(ctx, "order", order.ID, eventType, kafka.OrderEventPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		Reason:     reason,
	})
}

func (c *Coordinator) enqueue(ctx context.Context, aggregateType, aggregateID string, eventType kafka.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       data,
	}
	if _, err := c.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	if c.metrics != nil {
		c.metrics.RecordOutboxEvent()
	}
	return nil
}
