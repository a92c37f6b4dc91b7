package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type resourceRepository struct {
	db *sql.DB
}

// NewResourceRepository создаёт PostgreSQL-реализацию ResourceRepository.
func NewResourceRepository(store *Store) domain.ResourceRepository {
	return &resourceRepository{db: store.DB()}
}

func (r *resourceRepository) Create(ctx context.Context, resource domain.Resource) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := queryer(ctx, r.db).ExecContext(ctx, `
		INSERT INTO resources (
			id, kind, available, reserved, confirmed, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		resource.ID, string(resource.Kind), resource.Available, resource.Reserved,
		resource.Confirmed, resource.Version, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrResourceVersionConflict
		}
		return fmt.Errorf("insert resource: %w", err)
	}

	return nil
}

func (r *resourceRepository) Get(ctx context.Context, kind domain.ReservationKind, id string) (domain.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		resource domain.Resource
		kindRaw  string
	)

	err := queryer(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, kind, available, reserved, confirmed, version, created_at, updated_at
		FROM resources
		WHERE kind = $1 AND id = $2
	`, string(kind), id).Scan(
		&resource.ID,
		&kindRaw,
		&resource.Available,
		&resource.Reserved,
		&resource.Confirmed,
		&resource.Version,
		&resource.CreatedAt,
		&resource.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Resource{}, domain.ErrResourceNotFound
		}
		return domain.Resource{}, fmt.Errorf("select resource: %w", err)
	}
	resource.Kind = domain.ReservationKind(kindRaw)

	return resource, nil
}

// Save применяет счётчики с optimistic locking: ноль затронутых строк при
// существующей записи означает конкурентное обновление.
func (r *resourceRepository) Save(ctx context.Context, resource domain.Resource) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := queryer(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE resources
		SET available = $3,
		    reserved = $4,
		    confirmed = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE kind = $1
		  AND id = $2
		  AND version = $7
	`,
		string(resource.Kind), resource.ID, resource.Available, resource.Reserved,
		resource.Confirmed, time.Now().UTC(), resource.Version,
	)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resource rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := q.QueryRowContext(ctx, `SELECT id FROM resources WHERE kind = $1 AND id = $2`, string(resource.Kind), resource.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrResourceNotFound
		}
		if err != nil {
			return fmt.Errorf("check resource exists: %w", err)
		}
		return domain.ErrResourceVersionConflict
	}

	return nil
}

var _ domain.ResourceRepository = (*resourceRepository)(nil)
