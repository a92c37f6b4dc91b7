package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

// Enqueue вставляет событие в статусе ready. Если в контексте есть открытая
// транзакция, вставка присоединяется к ней — так событие коммитится атомарно
// с бизнес-изменением, которое оно описывает.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.Status = domain.OutboxStatusReady
	msg.CreatedAt = now
	msg.UpdatedAt = now

	_, err := queryer(ctx, r.db).ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, retry_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'ready',0,$6,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now, now,
	)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

func (r *outboxRepository) PullReady(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return r.pullByStatus(ctx, domain.OutboxStatusReady, limit)
}

func (r *outboxRepository) PullFailed(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return r.pullByStatus(ctx, domain.OutboxStatusFailed, limit)
}

func (r *outboxRepository) pullByStatus(ctx context.Context, status domain.OutboxStatus, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := queryer(ctx, r.db).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, retry_count, created_at, updated_at
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("pull outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg       domain.OutboxMessage
			statusRaw string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&statusRaw,
			&msg.RetryCount,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.Status = domain.OutboxStatus(statusRaw)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := queryer(ctx, r.db).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'ready'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(created_at) FILTER (WHERE status = 'ready')
		FROM outbox_messages
	`).Scan(&stats.ReadyCount, &stats.FailedCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestReadyAt = oldest.Time.UTC()
	}

	return stats, nil
}

// MarkSent переводит запись ready → sent. Условие по статусу гарантирует,
// что переход случится ровно один раз.
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.OutboxStatusReady, domain.OutboxStatusSent)
}

// MarkFailed фиксирует терминальный провал публикации.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.OutboxStatusReady, domain.OutboxStatusFailed)
}

// Requeue возвращает failed-запись в очередь публикации.
func (r *outboxRepository) Requeue(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := queryer(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'ready',
		    retry_count = 0,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'failed'
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("requeue outbox message: %w", err)
	}
	return checkAffected(res)
}

func (r *outboxRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var retryCount int
	err := queryer(ctx, r.db).QueryRowContext(ctx, `
		UPDATE outbox_messages
		SET retry_count = retry_count + 1,
		    updated_at = $2
		WHERE id = $1
		RETURNING retry_count
	`, id, time.Now().UTC()).Scan(&retryCount)
	if err != nil {
		return 0, fmt.Errorf("increment outbox retry count: %w", err)
	}

	return retryCount, nil
}

func (r *outboxRepository) transition(ctx context.Context, id string, from, to domain.OutboxStatus) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := queryer(ctx, r.db).ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
	`, id, string(to), time.Now().UTC(), string(from))
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", to, err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
