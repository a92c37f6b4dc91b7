package health

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

var dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fulfillment_dependency_up",
	Help: "Whether a probed dependency responded to the last health check (1) or not (0).",
}, []string{"service"})

// ProbeListener получает исход каждой проверки: err == nil при успехе.
// Через него сбои опроса питают circuit breaker зависимости.
type ProbeListener func(service string, err error)

// ProberOptions задаёт параметры фонового опроса зависимостей.
type ProberOptions struct {
	Logger   *log.Entry
	Interval time.Duration
	Timeout  time.Duration
	Listener ProbeListener
}

// ProberOption настраивает Prober.
type ProberOption func(*ProberOptions)

// WithProberLogger задаёт логгер.
func WithProberLogger(logger *log.Entry) ProberOption {
	return func(opts *ProberOptions) {
		opts.Logger = logger
	}
}

// WithProbeInterval задаёт период между опросами.
func WithProbeInterval(interval time.Duration) ProberOption {
	return func(opts *ProberOptions) {
		opts.Interval = interval
	}
}

// WithProbeTimeout задаёт таймаут одной проверки.
func WithProbeTimeout(timeout time.Duration) ProberOption {
	return func(opts *ProberOptions) {
		opts.Timeout = timeout
	}
}

// WithProbeListener подписывает listener на исходы проверок.
func WithProbeListener(listener ProbeListener) ProberOption {
	return func(opts *ProberOptions) {
		opts.Listener = listener
	}
}

// Prober периодически опрашивает внешние зависимости и публикует их
// доступность в метрику. Падение зависимости видно до того, как о ней
// споткнётся обработка событий.
type Prober struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	listener ProbeListener
	logger   *log.Entry
}

// NewProber создаёт фоновый опросчик поверх реестра проверок.
func NewProber(registry *Registry, options ...ProberOption) *Prober {
	opts := ProberOptions{
		Interval: defaultProbeInterval,
		Timeout:  defaultProbeTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "health_prober")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}

	return &Prober{
		registry: registry,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		listener: opts.Listener,
		logger:   opts.Logger,
	}
}

// Run запускает цикл опроса до отмены контекста.
func (p *Prober) Run(ctx context.Context) {
	p.logger.WithField("interval", p.interval).Info("health prober started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce выполняет один круг проверок всех зависимостей.
func (p *Prober) ProbeOnce(ctx context.Context) {
	for _, service := range p.registry.Services() {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.registry.Check(checkCtx, service)
		cancel()

		if p.listener != nil {
			p.listener(service, err)
		}

		if err != nil {
			dependencyUp.WithLabelValues(service).Set(0)
			p.logger.WithField("service", service).WithError(err).Warn("dependency probe failed")
			continue
		}
		dependencyUp.WithLabelValues(service).Set(1)
	}
}
