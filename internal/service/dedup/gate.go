package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var dedupOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fulfillment_dedup_events_total",
	Help: "Total number of consumed events grouped by dedup outcome.",
}, []string{"outcome"})

// Gate — идемпотентный consumer. Проверка processed-отметки, бизнес-эффект
// и запись отметки выполняются в одной локальной транзакции: при повторной
// доставке эффект не применяется второй раз.
type Gate struct {
	tx     domain.TxManager
	repo   domain.ProcessedEventRepository
	clock  domain.Clock
	logger *log.Entry
}

// NewGate создаёт dedup gate поверх processed-events хранилища.
func NewGate(tx domain.TxManager, repo domain.ProcessedEventRepository, clock domain.Clock) *Gate {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Gate{
		tx:     tx,
		repo:   repo,
		clock:  clock,
		logger: log.WithField("component", "dedup-gate"),
	}
}

// Process применяет effect ровно один раз для данного eventID.
//
// Ожидаемый доменный исход (нехватка ресурса, конфликт резерва, отклонённый
// платёж) — это результат обработки, а не сбой: отметка фиксируется и
// redelivery не нужен. Инфраструктурная ошибка откатывает транзакцию целиком,
// чтобы брокер доставил событие повторно.
func (g *Gate) Process(ctx context.Context, eventID string, eventType string, effect func(ctx context.Context) error) error {
	if eventID == "" {
		return domain.ErrEventIDRequired
	}

	err := g.tx.WithTx(ctx, func(ctx context.Context) error {
		exists, err := g.repo.Exists(ctx, eventID)
		if err != nil {
			return fmt.Errorf("check processed event: %w", err)
		}
		if exists {
			return domain.ErrEventAlreadyProcessed
		}

		effectErr := effect(ctx)
		if effectErr != nil && !domain.IsDomainFailure(effectErr) {
			return effectErr
		}

		record := domain.ProcessedEvent{
			EventID:     eventID,
			EventType:   eventType,
			ProcessedAt: g.clock.Now().UTC(),
		}
		if err := g.repo.Record(ctx, record); err != nil {
			return fmt.Errorf("record processed event: %w", err)
		}

		if effectErr != nil {
			g.logger.WithError(effectErr).WithFields(log.Fields{
				"event_id":   eventID,
				"event_type": eventType,
			}).Info("event processed with domain failure")
			dedupOutcomes.WithLabelValues("domain_failure").Inc()
		}
		return nil
	})

	switch {
	case err == nil:
		dedupOutcomes.WithLabelValues("processed").Inc()
		return nil
	case errors.Is(err, domain.ErrEventAlreadyProcessed):
		g.logger.WithFields(log.Fields{
			"event_id":   eventID,
			"event_type": eventType,
		}).Debug("duplicate event skipped")
		dedupOutcomes.WithLabelValues("duplicate").Inc()
		return nil
	default:
		dedupOutcomes.WithLabelValues("error").Inc()
		return err
	}
}
