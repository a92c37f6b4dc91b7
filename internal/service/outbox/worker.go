package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 100
	defaultMaxRetry     = 5
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	outboxReadyRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_ready_records",
		Help: "Current number of ready records in transactional outbox.",
	})
	outboxFailedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_failed_records",
		Help: "Current number of failed records in transactional outbox.",
	})
	outboxOldestReadyAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fulfillment_outbox_oldest_ready_age_seconds",
		Help: "Age in seconds of the oldest ready outbox record.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger       *log.Entry
	DLQPublisher domain.OutboxPublisher
	PollInterval time.Duration
	BatchSize    int
	MaxRetry     int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxRetry задаёт число попыток публикации перед переводом в failed.
func WithMaxRetry(maxRetry int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxRetry = maxRetry
	}
}

// Worker публикует ready-сообщения из outbox в брокер. Retry-состояние
// хранится в самой записи: неудачная публикация наращивает retry_count,
// и запись остаётся ready до следующего цикла либо уходит в failed.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	maxRetry     int
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		MaxRetry:     defaultMaxRetry,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = defaultMaxRetry
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		dlqPublisher: opts.DLQPublisher,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxRetry:     opts.MaxRetry,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл. Ошибка публикации одной записи
// не блокирует остальные записи батча.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullReady(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull ready outbox messages")
		return
	}
	if len(events) == 0 {
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		w.processRecord(ctx, event)
	}

	w.refreshBacklogMetrics(ctx)
}

func (w *Worker) processRecord(ctx context.Context, event domain.OutboxMessage) {
	if err := w.publisher.Publish(event); err != nil {
		outboxPublishAttempts.WithLabelValues("retry_error").Inc()
		w.handlePublishFailure(ctx, event, err)
		return
	}

	outboxPublishAttempts.WithLabelValues("sent").Inc()
	if err := w.repo.MarkSent(ctx, event.ID); err != nil {
		// Сообщение уже в брокере; consumers дедуплицируют повтор по event id.
		w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox as sent")
	}
}

func (w *Worker) handlePublishFailure(ctx context.Context, event domain.OutboxMessage, publishErr error) {
	retryCount, err := w.repo.IncrementRetry(ctx, event.ID)
	if err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to increment outbox retry count")
		return
	}

	if retryCount < w.maxRetry {
		w.logger.WithError(publishErr).WithFields(log.Fields{
			"outbox_id":   event.ID,
			"event_type":  event.EventType,
			"retry_count": retryCount,
			"max_retry":   w.maxRetry,
		}).Warn("outbox publish failed, will retry on next cycle")
		return
	}

	w.logger.WithError(publishErr).WithFields(log.Fields{
		"outbox_id":   event.ID,
		"event_type":  event.EventType,
		"retry_count": retryCount,
	}).Error("outbox publish failed after max retries")
	outboxPublishAttempts.WithLabelValues("failed").Inc()

	if dlqErr := w.publishToDLQ(event, publishErr); dlqErr != nil {
		w.logger.WithError(dlqErr).WithField("outbox_id", event.ID).Warn("failed to publish to DLQ")
		outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
		w.logger.WithError(markErr).WithField("outbox_id", event.ID).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxReadyRecords.Set(float64(stats.ReadyCount))
	outboxFailedRecords.Set(float64(stats.FailedCount))
	if stats.ReadyCount == 0 || stats.OldestReadyAt.IsZero() {
		outboxOldestReadyAge.Set(0)
		return
	}

	age := time.Since(stats.OldestReadyAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestReadyAge.Set(age)
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":        event.ID,
		"aggregate_type":   event.AggregateType,
		"aggregate_id":     event.AggregateID,
		"event_type":       event.EventType,
		"payload":          json.RawMessage(event.Payload),
		"publish_error":    publishErr.Error(),
		"dlq_published_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	}
	if err := w.dlqPublisher.Publish(dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}

	return nil
}
