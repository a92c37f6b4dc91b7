package domain

import "time"

// OrderStatus описывает жизненный цикл заказа глазами saga-координатора.
// Статус — персистентное состояние state machine: продвигается только
// валидированными переходами по полученным событиям, никогда ad hoc.
type OrderStatus string

const (
	// OrderStatusPlaced — заказ принят, резервирования ещё не начались.
	OrderStatusPlaced OrderStatus = "placed"
	// OrderStatusStockReserved — складской остаток удержан.
	OrderStatusStockReserved OrderStatus = "stock_reserved"
	// OrderStatusCouponReserved — купон удержан.
	OrderStatusCouponReserved OrderStatus = "coupon_reserved"
	// OrderStatusPointReserved — бонусные баллы удержаны.
	OrderStatusPointReserved OrderStatus = "point_reserved"
	// OrderStatusPaymentApproved — оплата подтверждена, резервы подтверждаются.
	OrderStatusPaymentApproved OrderStatus = "payment_approved"
	// OrderStatusShipped — доставка создана, заказ передан в исполнение.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен, терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled — заказ отменён компенсацией, терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// SagaStep задаёт шаги саги для команд, метрик и логов.
type SagaStep string

const (
	SagaStepStock    SagaStep = "stock"
	SagaStepCoupon   SagaStep = "coupon"
	SagaStepPoint    SagaStep = "point"
	SagaStepPayment  SagaStep = "payment"
	SagaStepDelivery SagaStep = "delivery"
)

// orderTransitions перечисляет допустимые переходы статуса.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPlaced:          {OrderStatusStockReserved, OrderStatusCouponReserved, OrderStatusPointReserved, OrderStatusPaymentApproved, OrderStatusCanceled},
	OrderStatusStockReserved:   {OrderStatusCouponReserved, OrderStatusPointReserved, OrderStatusPaymentApproved, OrderStatusCanceled},
	OrderStatusCouponReserved:  {OrderStatusPointReserved, OrderStatusPaymentApproved, OrderStatusCanceled},
	OrderStatusPointReserved:   {OrderStatusPaymentApproved, OrderStatusCanceled},
	OrderStatusPaymentApproved: {OrderStatusShipped, OrderStatusCanceled},
	OrderStatusShipped:         {OrderStatusDelivered},
	OrderStatusDelivered:       {},
	OrderStatusCanceled:        {},
}

// Order агрегирует состояние заказа для координатора. Координатор владеет
// только статусом заказа: удалённые резервы он не мутирует напрямую, а лишь
// эмитит команды и реагирует на события подтверждения/провала.
type Order struct {
	ID         string
	CustomerID string
	ProductID  string
	Quantity   int64
	// CouponID пуст, если купон к заказу не применён (шаг пропускается).
	CouponID string
	// PointAmount равен нулю, если баллы не списываются (шаг пропускается).
	PointAmount int64
	AmountMinor int64
	Currency    string
	Status      OrderStatus
	// ErrorReason заполняется машиночитаемой причиной при отмене.
	ErrorReason string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.ProductID == "" {
		errs = append(errs, ErrResourceIDRequired)
	}
	if o.Quantity <= 0 {
		errs = append(errs, ErrOrderQtyInvalid)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}

	return errs
}

// CanTransition проверяет допустимость перехода в target из текущего статуса.
func (o *Order) CanTransition(target OrderStatus) bool {
	for _, allowed := range orderTransitions[o.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Advance переводит заказ в target, если переход допустим.
func (o *Order) Advance(target OrderStatus, now time.Time) error {
	if o.Status == target {
		return nil
	}
	if !o.CanTransition(target) {
		return ErrOrderTransitionInvalid
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// ReservationSteps возвращает шаги резервирования заказа в прямом порядке.
// Купонный и балльный шаги присутствуют только когда заказ их использует.
func (o *Order) ReservationSteps() []SagaStep {
	steps := []SagaStep{SagaStepStock}
	if o.CouponID != "" {
		steps = append(steps, SagaStepCoupon)
	}
	if o.PointAmount > 0 {
		steps = append(steps, SagaStepPoint)
	}
	return steps
}

// CompletedReservationSteps возвращает уже выполненные шаги резервирования
// в прямом порядке — компенсация обходит их в обратном.
func (o *Order) CompletedReservationSteps() []SagaStep {
	done := map[SagaStep]bool{}
	switch o.Status {
	case OrderStatusPaymentApproved, OrderStatusShipped, OrderStatusDelivered:
		done[SagaStepStock] = true
		done[SagaStepCoupon] = o.CouponID != ""
		done[SagaStepPoint] = o.PointAmount > 0
	case OrderStatusPointReserved:
		done[SagaStepStock] = true
		done[SagaStepCoupon] = o.CouponID != ""
		done[SagaStepPoint] = true
	case OrderStatusCouponReserved:
		done[SagaStepStock] = true
		done[SagaStepCoupon] = true
	case OrderStatusStockReserved:
		done[SagaStepStock] = true
	}

	var steps []SagaStep
	for _, step := range o.ReservationSteps() {
		if done[step] {
			steps = append(steps, step)
		}
	}
	return steps
}

// StatusAfterStep возвращает статус, в который заказ переходит после
// успешного завершения шага step.
func StatusAfterStep(step SagaStep) OrderStatus {
	switch step {
	case SagaStepStock:
		return OrderStatusStockReserved
	case SagaStepCoupon:
		return OrderStatusCouponReserved
	case SagaStepPoint:
		return OrderStatusPointReserved
	case SagaStepPayment:
		return OrderStatusPaymentApproved
	case SagaStepDelivery:
		return OrderStatusShipped
	default:
		return ""
	}
}

// NextStep возвращает следующий шаг саги для текущего статуса заказа
// и false, если резервирования и оплата уже завершены.
func (o *Order) NextStep() (SagaStep, bool) {
	steps := o.ReservationSteps()
	switch o.Status {
	case OrderStatusPlaced:
		return steps[0], true
	case OrderStatusStockReserved, OrderStatusCouponReserved, OrderStatusPointReserved:
		for i, step := range steps {
			if StatusAfterStep(step) == o.Status {
				if i+1 < len(steps) {
					return steps[i+1], true
				}
				return SagaStepPayment, true
			}
		}
		return SagaStepPayment, true
	case OrderStatusPaymentApproved:
		return SagaStepDelivery, true
	default:
		return "", false
	}
}
