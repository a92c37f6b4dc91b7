package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultSweepInterval  = 30 * time.Second
	defaultSweepBatchSize = 200
)

var (
	sweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_reservation_sweeper_runs_total",
		Help: "Total number of reservation sweeper runs grouped by result.",
	}, []string{"result"})
	sweeperReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_reservation_sweeper_released_total",
		Help: "Total number of expired reservations released by the sweeper.",
	}, []string{"kind"})
)

// SweeperOptions задаёт параметры воркера истечения резервов.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Kinds     []domain.ReservationKind
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithSweepLogger задаёт logger для воркера.
func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithSweepInterval задаёт интервал между проходами.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithSweepBatchSize задаёт максимум резервов за один проход по виду.
func WithSweepBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// WithSweepKinds ограничивает набор обслуживаемых видов ресурсов.
func WithSweepKinds(kinds ...domain.ReservationKind) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Kinds = kinds
	}
}

// Sweeper периодически отменяет резервы с истёкшим TTL, возвращая удержанные
// остатки в пул. Страхует от саг, которые зависли между Reserve и
// Confirm/Cancel.
type Sweeper struct {
	service   *Service
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	kinds     []domain.ReservationKind
}

// NewSweeper создаёт воркер истечения резервов.
func NewSweeper(service *Service, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
		Kinds: []domain.ReservationKind{
			domain.ReservationKindStock,
			domain.ReservationKindCoupon,
			domain.ReservationKindPoint,
		},
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		service:   service,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		kinds:     opts.Kinds,
	}
}

// Run запускает периодический sweep до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.service == nil {
		s.logger.Warn("reservation sweeper is disabled: service is nil")
		return
	}

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce выполняет один проход по всем обслуживаемым видам ресурсов.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	for _, kind := range s.kinds {
		if ctx.Err() != nil {
			return
		}

		released, err := s.service.ExpireOnce(ctx, kind, s.batchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			sweeperRunsTotal.WithLabelValues("error").Inc()
			s.logger.WithError(err).WithField("kind", kind).Warn("reservation sweep failed")
			continue
		}

		sweeperRunsTotal.WithLabelValues("ok").Inc()
		if released > 0 {
			sweeperReleasedTotal.WithLabelValues(string(kind)).Add(float64(released))
			s.logger.WithFields(log.Fields{
				"kind":     kind,
				"released": released,
			}).Info("expired reservations released")
		}
	}
}
