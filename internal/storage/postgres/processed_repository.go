package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type processedRepository struct {
	db *sql.DB
}

// NewProcessedEventRepository создаёт PostgreSQL-реализацию dedup store.
func NewProcessedEventRepository(store *Store) domain.ProcessedEventRepository {
	return &processedRepository{db: store.DB()}
}

func (r *processedRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, domain.ErrEventIDRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	err := queryer(ctx, r.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)
	`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}

	return exists, nil
}

// Record вставляет отметку об обработке. Вызывается внутри той же транзакции,
// что и бизнес-эффект обработчика; unique index на event_id превращает гонку
// двух consumer-ов в ErrEventAlreadyProcessed.
func (r *processedRepository) Record(ctx context.Context, event domain.ProcessedEvent) error {
	if errs := event.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now().UTC()
	}

	_, err := queryer(ctx, r.db).ExecContext(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1,$2,$3)
	`, event.EventID, event.EventType, event.ProcessedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrEventAlreadyProcessed
		}
		return fmt.Errorf("record processed event: %w", err)
	}

	return nil
}

func (r *processedRepository) DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)

	if limit > 0 {
		res, err = queryer(ctx, r.db).ExecContext(ctx, `
			DELETE FROM processed_events
			WHERE event_id IN (
				SELECT event_id
				FROM processed_events
				WHERE processed_at < $1
				ORDER BY processed_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = queryer(ctx, r.db).ExecContext(ctx, `
			DELETE FROM processed_events
			WHERE processed_at < $1
		`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("processed events rows affected: %w", err)
	}

	return int(affected), nil
}

var _ domain.ProcessedEventRepository = (*processedRepository)(nil)
