package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

const (
	defaultTTL       = 10 * time.Minute
	defaultLockWait  = 3 * time.Second
	defaultLockLease = 10 * time.Second

	conflictRetries   = 3
	conflictBaseDelay = 10 * time.Millisecond
)

var reservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_reservation_outcomes_total",
	Help: "Total number of reservation operations grouped by kind and outcome.",
}, []string{"kind", "outcome"})

// kindEvents сопоставляет виду ресурса исходящие типы событий.
var kindEvents = map[domain.ReservationKind]struct {
	reserved  kafka.EventType
	failed    kafka.EventType
	confirmed kafka.EventType
	cancelled kafka.EventType
}{
	domain.ReservationKindStock: {
		reserved:  kafka.EventTypeStockReserved,
		failed:    kafka.EventTypeStockReservationFailed,
		confirmed: kafka.EventTypeStockConfirmed,
		cancelled: kafka.EventTypeStockReservationCancelled,
	},
	domain.ReservationKindCoupon: {
		reserved:  kafka.EventTypeCouponReserved,
		failed:    kafka.EventTypeCouponReservationFailed,
		confirmed: kafka.EventTypeCouponConfirmed,
		cancelled: kafka.EventTypeCouponReservationCancelled,
	},
	domain.ReservationKindPoint: {
		reserved:  kafka.EventTypePointReserved,
		failed:    kafka.EventTypePointReservationFailed,
		confirmed: kafka.EventTypePointConfirmed,
		cancelled: kafka.EventTypePointReservationCancelled,
	},
}

// Options задаёт параметры reservation-сервиса.
type Options struct {
	Logger    *log.Entry
	Lock      domain.LockExecutor
	TTL       time.Duration
	LockWait  time.Duration
	LockLease time.Duration
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger для сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLockExecutor включает distributed lock для купонов: их лимит общий на
// всех клиентов, и без сериализации конкурентные Reserve постоянно бьются об
// optimistic locking.
func WithLockExecutor(lock domain.LockExecutor) Option {
	return func(opts *Options) {
		opts.Lock = lock
	}
}

// WithTTL задаёт срок жизни резерва.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = ttl
	}
}

// WithLockTimings задаёт waitTime и leaseTime для distributed lock.
func WithLockTimings(wait, lease time.Duration) Option {
	return func(opts *Options) {
		opts.LockWait = wait
		opts.LockLease = lease
	}
}

// ReserveRequest — параметры резервирования ресурса под заказ.
type ReserveRequest struct {
	Kind           domain.ReservationKind
	ResourceID     string
	OrderID        string
	ReservationKey string
	Quantity       int64
}

// Service реализует state machine резервирования: Reserve удерживает ресурс,
// Confirm списывает его насовсем, Cancel возвращает в пул. Каждая операция
// меняет счётчики ресурса, запись резерва и outbox в одной транзакции.
type Service struct {
	tx           domain.TxManager
	reservations domain.ReservationRepository
	resources    domain.ResourceRepository
	outbox       domain.OutboxRepository
	clock        domain.Clock
	lock         domain.LockExecutor
	logger       *log.Entry
	ttl          time.Duration
	lockWait     time.Duration
	lockLease    time.Duration
}

// NewService создаёт reservation-сервис.
func NewService(
	tx domain.TxManager,
	reservations domain.ReservationRepository,
	resources domain.ResourceRepository,
	outbox domain.OutboxRepository,
	clock domain.Clock,
	options ...Option,
) *Service {
	opts := Options{
		TTL:       defaultTTL,
		LockWait:  defaultLockWait,
		LockLease: defaultLockLease,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-service")
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}

	return &Service{
		tx:           tx,
		reservations: reservations,
		resources:    resources,
		outbox:       outbox,
		clock:        clock,
		lock:         opts.Lock,
		logger:       logger,
		ttl:          opts.TTL,
		lockWait:     opts.LockWait,
		lockLease:    opts.LockLease,
	}
}

// Reserve удерживает quantity ресурса под заказ. Операция идемпотентна по
// ReservationKey: повторный вызов с тем же ключом возвращает существующий
// резерв без изменения счётчиков. Нехватка остатка — ожидаемый доменный
// исход: событие о неудаче пишется в outbox, вызывающему возвращается
// ErrInsufficientResource.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (domain.Reservation, error) {
	reservation := domain.Reservation{
		Kind:           req.Kind,
		ResourceID:     req.ResourceID,
		OrderID:        req.OrderID,
		ReservationKey: req.ReservationKey,
		Quantity:       req.Quantity,
	}
	if errs := reservation.Validate(); len(errs) > 0 {
		return domain.Reservation{}, errors.Join(errs...)
	}
	if _, ok := kindEvents[req.Kind]; !ok {
		return domain.Reservation{}, fmt.Errorf("unknown reservation kind %q", req.Kind)
	}

	var result domain.Reservation
	var domainErr error

	err := s.withKindLock(ctx, req.Kind, req.ResourceID, func(ctx context.Context) error {
		return s.withConflictRetry(ctx, func(ctx context.Context) error {
			result = domain.Reservation{}
			domainErr = nil
			return s.tx.WithTx(ctx, func(ctx context.Context) error {
				return s.reserveTx(ctx, req, &result, &domainErr)
			})
		})
	})
	if err != nil {
		reservationOutcomes.WithLabelValues(string(req.Kind), "error").Inc()
		return domain.Reservation{}, err
	}
	if domainErr != nil {
		reservationOutcomes.WithLabelValues(string(req.Kind), "insufficient").Inc()
		return domain.Reservation{}, domainErr
	}

	reservationOutcomes.WithLabelValues(string(req.Kind), "reserved").Inc()
	return result, nil
}

func (s *Service) reserveTx(ctx context.Context, req ReserveRequest, result *domain.Reservation, domainErr *error) error {
	existing, err := s.reservations.GetByKey(ctx, req.Kind, req.ReservationKey)
	if err == nil {
		// Повтор с тем же ключом идемпотентен только при совпадении параметров.
		// Другой ресурс или другое количество под тем же ключом — конфликт,
		// существующий резерв остаётся нетронутым.
		if existing.ResourceID != req.ResourceID || existing.Quantity != req.Quantity {
			s.logger.WithFields(log.Fields{
				"kind":              req.Kind,
				"reservation_key":   req.ReservationKey,
				"existing_quantity": existing.Quantity,
				"request_quantity":  req.Quantity,
			}).Warn("reserve rejected: key already taken with different parameters")
			return domain.ErrReservationConflict
		}
		s.logger.WithFields(log.Fields{
			"kind":            req.Kind,
			"reservation_key": req.ReservationKey,
			"status":          existing.Status,
		}).Debug("duplicate reserve, returning existing reservation")
		*result = existing
		return nil
	}
	if !errors.Is(err, domain.ErrReservationNotFound) {
		return fmt.Errorf("lookup reservation: %w", err)
	}

	resource, err := s.resources.Get(ctx, req.Kind, req.ResourceID)
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}

	now := s.clock.Now().UTC()

	if err := resource.Reserve(req.Quantity); err != nil {
		if !errors.Is(err, domain.ErrInsufficientResource) {
			return err
		}
		// Событие о неудаче фиксируется в той же транзакции, что и отметка
		// processed: неудача — результат обработки, а не повод для redelivery.
		if err := s.emitEvent(ctx, req.Kind, kindEvents[req.Kind].failed, kafka.ReservationResult{
			OrderID:        req.OrderID,
			ResourceID:     req.ResourceID,
			ReservationKey: req.ReservationKey,
			Quantity:       req.Quantity,
			Reason:         domain.ErrInsufficientResource.Error(),
		}); err != nil {
			return err
		}
		s.logger.WithFields(log.Fields{
			"kind":        req.Kind,
			"resource_id": req.ResourceID,
			"order_id":    req.OrderID,
			"quantity":    req.Quantity,
		}).Warn("reserve rejected: insufficient resource")
		*domainErr = domain.ErrInsufficientResource
		return nil
	}

	resource.UpdatedAt = now
	if err := s.resources.Save(ctx, resource); err != nil {
		return err
	}

	created := domain.Reservation{
		ID:             uuid.NewString(),
		Kind:           req.Kind,
		ResourceID:     req.ResourceID,
		OrderID:        req.OrderID,
		ReservationKey: req.ReservationKey,
		Quantity:       req.Quantity,
		Status:         domain.ReservationStatusReserved,
		ExpiresAt:      now.Add(s.ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.reservations.Create(ctx, created); err != nil {
		return err
	}

	if err := s.emitEvent(ctx, req.Kind, kindEvents[req.Kind].reserved, kafka.ReservationResult{
		OrderID:        req.OrderID,
		ResourceID:     req.ResourceID,
		ReservationKey: req.ReservationKey,
		Quantity:       req.Quantity,
	}); err != nil {
		return err
	}

	s.logger.WithFields(log.Fields{
		"kind":            req.Kind,
		"resource_id":     req.ResourceID,
		"order_id":        req.OrderID,
		"reservation_key": req.ReservationKey,
		"expires_at":      created.ExpiresAt,
	}).Info("resource reserved")

	*result = created
	return nil
}

// Confirm списывает удержанный ресурс насовсем. Повторный Confirm — no-op,
// Confirm отменённого резерва возвращает ErrReservationCancelled.
func (s *Service) Confirm(ctx context.Context, kind domain.ReservationKind, reservationKey string) error {
	err := s.transition(ctx, kind, reservationKey, domain.ReservationStatusConfirmed, "")
	if err != nil {
		reservationOutcomes.WithLabelValues(string(kind), "confirm_error").Inc()
		return err
	}
	reservationOutcomes.WithLabelValues(string(kind), "confirmed").Inc()
	return nil
}

// Cancel снимает удержание и возвращает остаток в пул. Cancel несуществующего
// или уже отменённого резерва — no-op: компенсация обязана быть идемпотентной
// и переживать шаги, которые так и не успели зарезервировать. Cancel
// подтверждённого резерва запрещён.
func (s *Service) Cancel(ctx context.Context, kind domain.ReservationKind, reservationKey, reason string) error {
	err := s.transition(ctx, kind, reservationKey, domain.ReservationStatusCancelled, reason)
	if err != nil {
		reservationOutcomes.WithLabelValues(string(kind), "cancel_error").Inc()
		return err
	}
	reservationOutcomes.WithLabelValues(string(kind), "cancelled").Inc()
	return nil
}

func (s *Service) transition(ctx context.Context, kind domain.ReservationKind, reservationKey string, target domain.ReservationStatus, reason string) error {
	events, ok := kindEvents[kind]
	if !ok {
		return fmt.Errorf("unknown reservation kind %q", kind)
	}

	return s.withKindLock(ctx, kind, "", func(ctx context.Context) error {
		return s.withConflictRetry(ctx, func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(ctx context.Context) error {
				reservation, err := s.reservations.GetByKey(ctx, kind, reservationKey)
				if err != nil {
					if target == domain.ReservationStatusCancelled && errors.Is(err, domain.ErrReservationNotFound) {
						s.logger.WithFields(log.Fields{
							"kind":            kind,
							"reservation_key": reservationKey,
						}).Debug("cancel of unknown reservation, nothing to do")
						return nil
					}
					return err
				}

				if reservation.Status == target {
					s.logger.WithFields(log.Fields{
						"kind":            kind,
						"reservation_key": reservationKey,
						"status":          target,
					}).Debug("reservation already in target status")
					return nil
				}
				if err := reservation.CanTransition(target); err != nil {
					return err
				}

				now := s.clock.Now().UTC()

				// Счётчики двигаются до смены статуса: конфликт версии ресурса —
				// первая запись операции, и повтор начинает с чистого состояния.
				// Обратный порядок после конфликта оставлял бы статус уже
				// переключённым, а повтор уходил в no-op без движения счётчиков.
				resource, err := s.resources.Get(ctx, kind, reservation.ResourceID)
				if err != nil {
					return fmt.Errorf("load resource: %w", err)
				}
				switch target {
				case domain.ReservationStatusConfirmed:
					if err := resource.ConfirmReserved(reservation.Quantity); err != nil {
						return err
					}
				case domain.ReservationStatusCancelled:
					if err := resource.ReleaseReserved(reservation.Quantity); err != nil {
						return err
					}
				}
				resource.UpdatedAt = now
				if err := s.resources.Save(ctx, resource); err != nil {
					return err
				}

				if err := s.reservations.UpdateStatus(ctx, reservation.ID, domain.ReservationStatusReserved, target, now); err != nil {
					return err
				}

				eventType := events.confirmed
				if target == domain.ReservationStatusCancelled {
					eventType = events.cancelled
				}
				if err := s.emitEvent(ctx, kind, eventType, kafka.ReservationResult{
					OrderID:        reservation.OrderID,
					ResourceID:     reservation.ResourceID,
					ReservationKey: reservation.ReservationKey,
					Quantity:       reservation.Quantity,
					Reason:         reason,
				}); err != nil {
					return err
				}

				s.logger.WithFields(log.Fields{
					"kind":            kind,
					"reservation_key": reservationKey,
					"order_id":        reservation.OrderID,
					"status":          target,
				}).Info("reservation transitioned")
				return nil
			})
		})
	})
}

// ExpireOnce отменяет резервы вида kind с истёкшим TTL, возвращая остатки в
// пул. Каждый резерв обрабатывается в собственной транзакции: гонка со
// встречным Confirm разрешается условным UpdateStatus.
func (s *Service) ExpireOnce(ctx context.Context, kind domain.ReservationKind, limit int) (int, error) {
	now := s.clock.Now().UTC()
	expired, err := s.reservations.ListExpired(ctx, kind, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	released := 0
	for _, reservation := range expired {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}

		err := s.Cancel(ctx, kind, reservation.ReservationKey, "reservation ttl expired")
		if err != nil {
			if errors.Is(err, domain.ErrReservationStale) || errors.Is(err, domain.ErrReservationConfirmed) {
				// Резерв успели подтвердить или отменить параллельно.
				continue
			}
			s.logger.WithError(err).WithFields(log.Fields{
				"kind":            kind,
				"reservation_key": reservation.ReservationKey,
			}).Warn("failed to expire reservation")
			continue
		}
		released++
	}

	return released, nil
}

// withKindLock сериализует операции над купонами через distributed lock.
// Для stock и point optimistic locking достаточно: их ресурсы не являются
// общей точкой конкуренции всех клиентов.
func (s *Service) withKindLock(ctx context.Context, kind domain.ReservationKind, resourceID string, fn func(ctx context.Context) error) error {
	if s.lock == nil || kind != domain.ReservationKindCoupon {
		return fn(ctx)
	}
	key := "reservation:coupon"
	if resourceID != "" {
		key += ":" + resourceID
	}
	return s.lock.WithLock(ctx, key, s.lockWait, s.lockLease, fn)
}

func (s *Service) withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !domain.IsVersionConflict(lastErr) {
			return lastErr
		}

		s.logger.WithFields(log.Fields{
			"attempt": attempt + 1,
		}).Warn("version conflict detected, retrying")

		delay := conflictBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (s *Service) emitEvent(ctx context.Context, kind domain.ReservationKind, eventType kafka.EventType, payload kafka.ReservationResult) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal reservation event: %w", err)
	}

	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: string(kind),
		AggregateID:   payload.OrderID,
		EventType:     string(eventType),
		Payload:       data,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue reservation event: %w", err)
	}
	return nil
}
