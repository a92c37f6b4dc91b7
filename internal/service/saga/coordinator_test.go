package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type sagaFixture struct {
	coordinator *Coordinator
	orders      domain.OrderRepository
	outbox      interface {
		domain.OutboxRepository
		All() []domain.OutboxMessage
	}
	payments *payment.MockService
	clock    *fakeClock
}

func newFixture(t *testing.T) *sagaFixture {
	t.Helper()

	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	payments := payment.NewMockService()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	coordinator := NewCoordinator(memory.NewTxManager(), orders, outbox, payments, clock)

	return &sagaFixture{
		coordinator: coordinator,
		orders:      orders,
		outbox:      outbox,
		payments:    payments,
		clock:       clock,
	}
}

func fullOrder() domain.Order {
	return domain.Order{
		CustomerID:  "customer-1",
		ProductID:   "product-1",
		Quantity:    2,
		CouponID:    "coupon-1",
		PointAmount: 300,
		AmountMinor: 14900,
		Currency:    "RUB",
	}
}

func (f *sagaFixture) place(t *testing.T, order domain.Order) domain.Order {
	t.Helper()

	placed, err := f.coordinator.PlaceOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return placed
}

func (f *sagaFixture) handle(t *testing.T, eventType kafka.EventType, payload any) {
	t.Helper()

	env, err := kafka.NewEnvelope(eventType, "test", "test", payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := f.coordinator.HandleEnvelope(context.Background(), env); err != nil {
		t.Fatalf("HandleEnvelope(%s): %v", eventType, err)
	}
}

func (f *sagaFixture) handleReserved(t *testing.T, orderID string, step domain.SagaStep) {
	t.Helper()

	eventType, payload := reserved(orderID, step)
	f.handle(t, eventType, payload)
}

func (f *sagaFixture) handleErr(t *testing.T, eventType kafka.EventType, payload any) error {
	t.Helper()

	env, err := kafka.NewEnvelope(eventType, "test", "test", payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return f.coordinator.HandleEnvelope(context.Background(), env)
}

func (f *sagaFixture) eventsOfType(eventType kafka.EventType) []domain.OutboxMessage {
	var matched []domain.OutboxMessage
	for _, msg := range f.outbox.All() {
		if msg.EventType == string(eventType) {
			matched = append(matched, msg)
		}
	}
	return matched
}

func (f *sagaFixture) status(t *testing.T, orderID string) domain.OrderStatus {
	t.Helper()

	order, err := f.orders.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("orders.Get: %v", err)
	}
	return order.Status
}

func reserved(orderID string, step domain.SagaStep) (kafka.EventType, kafka.ReservationResult) {
	events := map[domain.SagaStep]kafka.EventType{
		domain.SagaStepStock:  kafka.EventTypeStockReserved,
		domain.SagaStepCoupon: kafka.EventTypeCouponReserved,
		domain.SagaStepPoint:  kafka.EventTypePointReserved,
	}
	return events[step], kafka.ReservationResult{
		OrderID:        orderID,
		ReservationKey: orderID + ":" + string(step),
	}
}

func TestPlaceOrder_EmitsFirstReservationCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	if order.Status != domain.OrderStatusPlaced {
		t.Fatalf("expected status placed, got %s", order.Status)
	}

	commands := f.eventsOfType(kafka.CommandReserveStock)
	if len(commands) != 1 {
		t.Fatalf("expected one ReserveStock command, got %d", len(commands))
	}
	if commands[0].AggregateType != "reservation" {
		t.Errorf("expected aggregate type reservation, got %s", commands[0].AggregateType)
	}
	if commands[0].AggregateID != order.ID {
		t.Errorf("expected aggregate id %s, got %s", order.ID, commands[0].AggregateID)
	}
}

func TestPlaceOrder_RejectsInvalidOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.coordinator.PlaceOrder(context.Background(), domain.Order{CustomerID: "customer-1"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(f.outbox.All()) != 0 {
		t.Fatalf("expected no outbox records, got %d", len(f.outbox.All()))
	}
}

func TestSaga_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	if got := f.status(t, order.ID); got != domain.OrderStatusStockReserved {
		t.Fatalf("after stock reserved: expected stock_reserved, got %s", got)
	}
	if len(f.eventsOfType(kafka.CommandReserveCoupon)) != 1 {
		t.Fatal("expected ReserveCoupon command after stock step")
	}

	f.handleReserved(t, order.ID, domain.SagaStepCoupon)
	if len(f.eventsOfType(kafka.CommandReservePoint)) != 1 {
		t.Fatal("expected ReservePoint command after coupon step")
	}

	f.handleReserved(t, order.ID, domain.SagaStepPoint)

	// все резервы взяты: оплата проходит синхронно и заказ уходит в доставку
	if f.payments.ApproveCalls != 1 {
		t.Fatalf("expected one payment approval, got %d", f.payments.ApproveCalls)
	}
	if got := f.status(t, order.ID); got != domain.OrderStatusShipped {
		t.Fatalf("after payment: expected shipped, got %s", got)
	}
	for _, confirm := range []kafka.EventType{kafka.CommandConfirmStock, kafka.CommandConfirmCoupon, kafka.CommandConfirmPoint} {
		if len(f.eventsOfType(confirm)) != 1 {
			t.Errorf("expected one %s command", confirm)
		}
	}
	if len(f.eventsOfType(kafka.EventTypeDeliveryCreated)) != 1 {
		t.Fatal("expected DeliveryCreatedEvent")
	}

	f.handle(t, kafka.EventTypeDeliveryCompleted, kafka.OrderEventPayload{OrderID: order.ID})
	if got := f.status(t, order.ID); got != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", got)
	}
	if len(f.eventsOfType(kafka.EventTypeOrderCompleted)) != 1 {
		t.Fatal("expected OrderCompletedEvent")
	}
}

func TestSaga_SkipsCouponAndPointSteps(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := fullOrder()
	order.CouponID = ""
	order.PointAmount = 0
	placed := f.place(t, order)

	f.handleReserved(t, placed.ID, domain.SagaStepStock)

	// без купона и баллов следующий шаг сразу оплата
	if f.payments.ApproveCalls != 1 {
		t.Fatalf("expected payment right after stock step, approvals = %d", f.payments.ApproveCalls)
	}
	if len(f.eventsOfType(kafka.CommandReserveCoupon)) != 0 {
		t.Fatal("unexpected ReserveCoupon command for order without coupon")
	}
	if len(f.eventsOfType(kafka.CommandConfirmPoint)) != 0 {
		t.Fatal("unexpected ConfirmPoint command for order without points")
	}
	if got := f.status(t, placed.ID); got != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", got)
	}
}

func TestSaga_CompensatesInReverseOrderOnStepFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handleReserved(t, order.ID, domain.SagaStepCoupon)

	f.handle(t, kafka.EventTypePointReservationFailed, kafka.ReservationResult{
		OrderID: order.ID,
		Reason:  "insufficient points",
	})

	if got := f.status(t, order.ID); got != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", got)
	}

	// отмены идут в обратном порядке: сначала купон, потом склад
	var cancels []string
	for _, msg := range f.outbox.All() {
		if msg.EventType == string(kafka.CommandCancelCoupon) || msg.EventType == string(kafka.CommandCancelStock) {
			cancels = append(cancels, msg.EventType)
		}
	}
	if len(cancels) != 2 || cancels[0] != string(kafka.CommandCancelCoupon) || cancels[1] != string(kafka.CommandCancelStock) {
		t.Fatalf("expected [CancelCoupon CancelStock], got %v", cancels)
	}
	if len(f.eventsOfType(kafka.CommandCancelPoint)) != 0 {
		t.Fatal("unexpected CancelPoint for a step that never reserved")
	}

	failed := f.eventsOfType(kafka.EventTypeOrderFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one OrderFailedEvent, got %d", len(failed))
	}

	stored, err := f.orders.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("orders.Get: %v", err)
	}
	if stored.ErrorReason != "insufficient points" {
		t.Errorf("expected failure reason on order, got %q", stored.ErrorReason)
	}
	if f.payments.RefundCalls != 0 {
		t.Errorf("expected no refund before payment, got %d", f.payments.RefundCalls)
	}
}

func TestSaga_PaymentDeclinedTriggersCompensation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payments.ApproveErr = domain.ErrPaymentDeclined
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handleReserved(t, order.ID, domain.SagaStepCoupon)
	f.handleReserved(t, order.ID, domain.SagaStepPoint)

	if got := f.status(t, order.ID); got != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled after declined payment, got %s", got)
	}
	for _, cancel := range []kafka.EventType{kafka.CommandCancelPoint, kafka.CommandCancelCoupon, kafka.CommandCancelStock} {
		if len(f.eventsOfType(cancel)) != 1 {
			t.Errorf("expected one %s command", cancel)
		}
	}
	if f.payments.RefundCalls != 0 {
		t.Errorf("declined payment must not be refunded, refunds = %d", f.payments.RefundCalls)
	}
}

func TestSaga_PaymentInfraErrorPropagatesForRedelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.payments.ApproveErr = errors.New("provider timeout")
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handleReserved(t, order.ID, domain.SagaStepCoupon)

	eventType, payload := reserved(order.ID, domain.SagaStepPoint)
	if err := f.handleErr(t, eventType, payload); err == nil {
		t.Fatal("expected infra error to propagate")
	}
	if got := f.status(t, order.ID); got == domain.OrderStatusCanceled {
		t.Fatal("infra failure must not cancel the order")
	}
}

func TestSaga_CancelRequestBeforeShipment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)

	f.handle(t, kafka.EventTypeOrderCancelled, kafka.OrderEventPayload{OrderID: order.ID})

	if got := f.status(t, order.ID); got != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", got)
	}
	if len(f.eventsOfType(kafka.CommandCancelStock)) != 1 {
		t.Fatal("expected CancelStock command")
	}

	stored, err := f.orders.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("orders.Get: %v", err)
	}
	if stored.ErrorReason != "canceled by request" {
		t.Errorf("expected default cancel reason, got %q", stored.ErrorReason)
	}
}

func TestSaga_CancelRequestAfterShipmentRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handleReserved(t, order.ID, domain.SagaStepCoupon)
	f.handleReserved(t, order.ID, domain.SagaStepPoint)

	err := f.handleErr(t, kafka.EventTypeOrderCancelled, kafka.OrderEventPayload{OrderID: order.ID})
	if !errors.Is(err, domain.ErrOrderTransitionInvalid) {
		t.Fatalf("expected ErrOrderTransitionInvalid, got %v", err)
	}
	if got := f.status(t, order.ID); got != domain.OrderStatusShipped {
		t.Fatalf("expected order to stay shipped, got %s", got)
	}
}

func TestSaga_DuplicateReservedEventIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handleReserved(t, order.ID, domain.SagaStepStock)

	if got := f.status(t, order.ID); got != domain.OrderStatusStockReserved {
		t.Fatalf("expected stock_reserved, got %s", got)
	}
	if n := len(f.eventsOfType(kafka.CommandReserveCoupon)); n != 1 {
		t.Fatalf("expected exactly one ReserveCoupon command, got %d", n)
	}
}

func TestSaga_LateReservedEventAfterCancelIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handle(t, kafka.EventTypeOrderCancelled, kafka.OrderEventPayload{OrderID: order.ID})

	before := len(f.outbox.All())
	f.handleReserved(t, order.ID, domain.SagaStepCoupon)

	if got := f.status(t, order.ID); got != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", got)
	}
	if after := len(f.outbox.All()); after != before {
		t.Fatalf("late reserved event must not emit commands, outbox grew %d -> %d", before, after)
	}
}

func TestSaga_OrderCreatedEventPlacesOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	payload := kafka.OrderEventPayload{
		OrderID:     "order-42",
		CustomerID:  "customer-1",
		ProductID:   "product-1",
		Quantity:    1,
		AmountMinor: 5000,
		Currency:    "RUB",
	}
	f.handle(t, kafka.EventTypeOrderCreated, payload)

	if got := f.status(t, "order-42"); got != domain.OrderStatusPlaced {
		t.Fatalf("expected placed, got %s", got)
	}

	// повторная доставка того же события не создаёт второй заказ
	f.handle(t, kafka.EventTypeOrderCreated, payload)
	if n := len(f.eventsOfType(kafka.CommandReserveStock)); n != 1 {
		t.Fatalf("expected one ReserveStock command, got %d", n)
	}
}

func TestSaga_PaymentCompletedForCanceledOrderRefunds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.place(t, fullOrder())

	f.handleReserved(t, order.ID, domain.SagaStepStock)
	f.handle(t, kafka.EventTypeOrderCancelled, kafka.OrderEventPayload{OrderID: order.ID})

	f.handle(t, kafka.EventTypePaymentCompleted, kafka.OrderEventPayload{OrderID: order.ID})

	if f.payments.RefundCalls != 1 {
		t.Fatalf("expected one refund, got %d", f.payments.RefundCalls)
	}
	if got := f.status(t, order.ID); got != domain.OrderStatusCanceled {
		t.Fatalf("expected canceled, got %s", got)
	}
}

func TestSaga_UnknownEventTypeFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.handleErr(t, kafka.EventType("MysteryEvent"), kafka.OrderEventPayload{OrderID: "order-1"})
	if err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
