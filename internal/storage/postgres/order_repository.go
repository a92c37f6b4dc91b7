package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `id, customer_id, product_id, quantity, coupon_id, point_amount,
	amount_minor, currency, status, error_reason, version, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := queryer(ctx, r.db).ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, product_id, quantity, coupon_id, point_amount,
			amount_minor, currency, status, error_reason, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		order.ID, order.CustomerID, order.ProductID, order.Quantity, order.CouponID,
		order.PointAmount, order.AmountMinor, order.Currency, string(order.Status),
		order.ErrorReason, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := queryer(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	q := queryer(ctx, r.db)
	if limit > 0 {
		rows, err = q.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = q.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := queryer(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    error_reason = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND version = $5
	`,
		order.ID,
		string(order.Status),
		order.ErrorReason,
		order.UpdatedAt,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, order.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		statusRaw string
		couponID  sql.NullString
		reason    sql.NullString
	)

	if err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.ProductID,
		&order.Quantity,
		&couponID,
		&order.PointAmount,
		&order.AmountMinor,
		&order.Currency,
		&statusRaw,
		&reason,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(statusRaw)
	order.CouponID = couponID.String
	order.ErrorReason = reason.String

	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
