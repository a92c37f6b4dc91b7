package dedup

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
	defaultRetentionInterval  = 10 * time.Minute
	defaultRetentionPeriod    = 7 * 24 * time.Hour
	defaultRetentionBatchSize = 500
)

var (
	dedupRetentionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dedup_retention_runs_total",
		Help: "Total number of processed-events retention runs grouped by result.",
	}, []string{"result"})
	dedupRetentionDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_dedup_retention_deleted_total",
		Help: "Total number of deleted processed-event records.",
	})
	dedupRetentionLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_dedup_retention_last_deleted",
		Help: "Number of deleted records during the last retention run.",
	})
)

// RetentionOptions задаёт параметры воркера очистки processed-событий.
type RetentionOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// RetentionOption настраивает RetentionWorker.
type RetentionOption func(*RetentionOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между retention-циклами.
func WithInterval(interval time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Interval = interval
	}
}

// WithRetention задаёт срок хранения processed-отметок. Срок должен быть
// заметно больше максимального лага redelivery у брокера.
func WithRetention(retention time.Duration) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.Retention = retention
	}
}

// WithBatchSize задаёт размер batch для одного удаления.
func WithBatchSize(batchSize int) RetentionOption {
	return func(opts *RetentionOptions) {
		opts.BatchSize = batchSize
	}
}

// RetentionWorker периодически удаляет устаревшие processed-отметки.
type RetentionWorker struct {
	repo      domain.ProcessedEventRepository
	clock     domain.Clock
	logger    *log.Entry
	interval  time.Duration
	retention time.Duration
	batchSize int
}

// NewRetentionWorker создаёт воркер очистки processed-событий.
func NewRetentionWorker(repo domain.ProcessedEventRepository, clock domain.Clock, options ...RetentionOption) *RetentionWorker {
	opts := RetentionOptions{
		Interval:  defaultRetentionInterval,
		Retention: defaultRetentionPeriod,
		BatchSize: defaultRetentionBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "dedup-retention-worker")
	}
	if clock == nil {
		clock = domain.SystemClock()
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultRetentionInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetentionPeriod
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRetentionBatchSize
	}

	return &RetentionWorker{
		repo:      repo,
		clock:     clock,
		logger:    logger,
		interval:  opts.Interval,
		retention: opts.Retention,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("dedup retention worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *RetentionWorker) cleanup(ctx context.Context) {
	before := w.clock.Now().UTC().Add(-w.retention)

	deleted, err := w.DeleteOlderThan(ctx, before)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		dedupRetentionRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("dedup retention run failed")
		return
	}

	dedupRetentionRunsTotal.WithLabelValues("ok").Inc()
	dedupRetentionLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("dedup retention completed")
	}
}

// DeleteOlderThan удаляет все отметки старше before порциями batchSize.
func (w *RetentionWorker) DeleteOlderThan(ctx context.Context, before time.Time) (int, error) {
	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := w.repo.DeleteOlderThan(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			dedupRetentionDeletedTotal.Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
