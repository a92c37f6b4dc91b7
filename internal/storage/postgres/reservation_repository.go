package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type reservationRepository struct {
	db *sql.DB
}

// NewReservationRepository создаёт PostgreSQL-реализацию ReservationRepository.
func NewReservationRepository(store *Store) domain.ReservationRepository {
	return &reservationRepository{db: store.DB()}
}

func (r *reservationRepository) Create(ctx context.Context, reservation domain.Reservation) error {
	if errs := reservation.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if reservation.ID == "" {
		reservation.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	var expiresAt any
	if !reservation.ExpiresAt.IsZero() {
		expiresAt = reservation.ExpiresAt
	}

	_, err := queryer(ctx, r.db).ExecContext(ctx, `
		INSERT INTO reservations (
			id, kind, resource_id, order_id, reservation_key, quantity,
			status, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		reservation.ID,
		string(reservation.Kind),
		reservation.ResourceID,
		reservation.OrderID,
		reservation.ReservationKey,
		reservation.Quantity,
		string(domain.ReservationStatusReserved),
		expiresAt,
		now,
		now,
	)
	if err != nil {
		// Unique index (kind, reservation_key) превращает гонку двух
		// одинаковых запросов в конфликт, который разбирает сервис.
		if isUniqueViolation(err) {
			return domain.ErrReservationConflict
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	return nil
}

func (r *reservationRepository) GetByKey(ctx context.Context, kind domain.ReservationKind, key string) (domain.Reservation, error) {
	if key == "" {
		return domain.Reservation{}, domain.ErrReservationKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		reservation domain.Reservation
		kindRaw     string
		statusRaw   string
		expiresAt   sql.NullTime
	)

	err := queryer(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, kind, resource_id, order_id, reservation_key, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE kind = $1 AND reservation_key = $2
	`, string(kind), key).Scan(
		&reservation.ID,
		&kindRaw,
		&reservation.ResourceID,
		&reservation.OrderID,
		&reservation.ReservationKey,
		&reservation.Quantity,
		&statusRaw,
		&expiresAt,
		&reservation.CreatedAt,
		&reservation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("select reservation: %w", err)
	}

	reservation.Kind = domain.ReservationKind(kindRaw)
	reservation.Status = domain.ReservationStatus(statusRaw)
	if expiresAt.Valid {
		reservation.ExpiresAt = expiresAt.Time.UTC()
	}

	return reservation, nil
}

// UpdateStatus выполняет условный переход from → to. Ноль затронутых строк
// означает, что статус уже сменил кто-то другой.
func (r *reservationRepository) UpdateStatus(ctx context.Context, id string, from, to domain.ReservationStatus, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := queryer(ctx, r.db).ExecContext(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
	`, id, string(to), now, string(from))
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reservation rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrReservationStale
	}

	return nil
}

func (r *reservationRepository) ListExpired(ctx context.Context, kind domain.ReservationKind, before time.Time, limit int) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := queryer(ctx, r.db).QueryContext(ctx, `
		SELECT id, kind, resource_id, order_id, reservation_key, quantity, status, expires_at, created_at, updated_at
		FROM reservations
		WHERE kind = $1
		  AND status = 'reserved'
		  AND expires_at IS NOT NULL
		  AND expires_at < $2
		ORDER BY expires_at, id
		LIMIT $3
	`, string(kind), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Reservation, 0, limit)
	for rows.Next() {
		var (
			reservation domain.Reservation
			kindRaw     string
			statusRaw   string
			expiresAt   sql.NullTime
		)
		if err := rows.Scan(
			&reservation.ID,
			&kindRaw,
			&reservation.ResourceID,
			&reservation.OrderID,
			&reservation.ReservationKey,
			&reservation.Quantity,
			&statusRaw,
			&expiresAt,
			&reservation.CreatedAt,
			&reservation.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservation.Kind = domain.ReservationKind(kindRaw)
		reservation.Status = domain.ReservationStatus(statusRaw)
		if expiresAt.Valid {
			reservation.ExpiresAt = expiresAt.Time.UTC()
		}
		result = append(result, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservation rows: %w", err)
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ReservationRepository = (*reservationRepository)(nil)
