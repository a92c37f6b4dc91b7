package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultErrorThreshold   = 5
	defaultSuccessThreshold = 2
	defaultCooldown         = 30 * time.Second
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fulfillment_breaker_open",
		Help: "Whether the circuit breaker for a dependency is open (1) or closed (0).",
	}, []string{"service"})
	breakerRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_breaker_rejected_total",
		Help: "Total number of calls rejected by an open circuit breaker.",
	}, []string{"service"})
)

// Options задаёт пороги circuit breaker-а.
type Options struct {
	ErrorThreshold   int
	SuccessThreshold int
	Cooldown         time.Duration
}

// Option настраивает Breaker.
type Option func(*Options)

// WithThresholds задаёт число ошибок до открытия и успехов до закрытия.
func WithThresholds(errorThreshold, successThreshold int) Option {
	return func(opts *Options) {
		opts.ErrorThreshold = errorThreshold
		opts.SuccessThreshold = successThreshold
	}
}

// WithCooldown задаёт паузу перед переходом в half-open.
func WithCooldown(cooldown time.Duration) Option {
	return func(opts *Options) {
		opts.Cooldown = cooldown
	}
}

// Breaker защищает вызовы одной внешней зависимости. Подряд идущие
// инфраструктурные сбои открывают цепь: дальнейшие вызовы отклоняются
// сразу с ErrCircuitOpen, без ожидания таймаутов деградировавшей стороны.
type Breaker struct {
	service string
	inner   *breaker.Breaker
	logger  *log.Entry
}

// New создаёт circuit breaker для зависимости service.
func New(service string, options ...Option) *Breaker {
	opts := Options{
		ErrorThreshold:   defaultErrorThreshold,
		SuccessThreshold: defaultSuccessThreshold,
		Cooldown:         defaultCooldown,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = defaultErrorThreshold
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = defaultSuccessThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}

	breakerState.WithLabelValues(service).Set(0)

	return &Breaker{
		service: service,
		inner:   breaker.New(opts.ErrorThreshold, opts.SuccessThreshold, opts.Cooldown),
		logger:  log.WithField("component", "breaker").WithField("service", service),
	}
}

// Do исполняет fn под защитой breaker-а. Доменные исходы (отклонённый
// платёж, конфликт резерва) не считаются сбоями зависимости и цепь
// не открывают.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var domainErr error

	err := b.inner.Run(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err != nil && domain.IsDomainFailure(err) {
			domainErr = err
			return nil
		}
		return err
	})

	switch {
	case errors.Is(err, breaker.ErrBreakerOpen):
		breakerState.WithLabelValues(b.service).Set(1)
		breakerRejects.WithLabelValues(b.service).Inc()
		b.logger.Warn("call rejected: circuit is open")
		return domain.ErrCircuitOpen
	case err != nil:
		return err
	}

	breakerState.WithLabelValues(b.service).Set(0)
	return domainErr
}

// Service возвращает имя защищаемой зависимости.
func (b *Breaker) Service() string {
	return b.service
}

var errDependencyDown = errors.New("dependency health check failed")

// RecordFailure засчитывает внешне обнаруженный сбой зависимости наравне с
// упавшим вызовом. Так health-опрос открывает цепь до того, как деградацию
// заметит обработка событий.
func (b *Breaker) RecordFailure() {
	err := b.inner.Run(func() error { return errDependencyDown })
	if errors.Is(err, breaker.ErrBreakerOpen) {
		breakerState.WithLabelValues(b.service).Set(1)
	}
}
