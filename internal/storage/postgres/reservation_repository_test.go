package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func newMockReservationRepo(t *testing.T) (*reservationRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})

	return &reservationRepository{db: db}, mock
}

func stockReservation() domain.Reservation {
	return domain.Reservation{
		Kind:           domain.ReservationKindStock,
		ResourceID:     "sku-1",
		OrderID:        "order-1",
		ReservationKey: "order-1:stock",
		Quantity:       2,
	}
}

func TestReservationRepository_Create(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	mock.ExpectExec(`INSERT INTO reservations`).
		WithArgs(
			sqlmock.AnyArg(),
			string(domain.ReservationKindStock),
			"sku-1",
			"order-1",
			"order-1:stock",
			2,
			string(domain.ReservationStatusReserved),
			nil,
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), stockReservation()); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestReservationRepository_CreateDuplicateKey(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), stockReservation())
	if !errors.Is(err, domain.ErrReservationConflict) {
		t.Fatalf("expected ErrReservationConflict, got %v", err)
	}
}

func TestReservationRepository_CreateInvalid(t *testing.T) {
	repo, _ := newMockReservationRepo(t)

	reservation := stockReservation()
	reservation.Quantity = 0

	err := repo.Create(context.Background(), reservation)
	if !errors.Is(err, domain.ErrReservationQtyInvalid) {
		t.Fatalf("expected ErrReservationQtyInvalid, got %v", err)
	}
}

func TestReservationRepository_GetByKey(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	now := time.Now().UTC()
	expires := now.Add(10 * time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "kind", "resource_id", "order_id", "reservation_key", "quantity",
		"status", "expires_at", "created_at", "updated_at",
	}).AddRow("res-1", "stock", "sku-1", "order-1", "order-1:stock", 2, "reserved", expires, now, now)

	mock.ExpectQuery(`SELECT .* FROM reservations`).
		WithArgs("stock", "order-1:stock").
		WillReturnRows(rows)

	got, err := repo.GetByKey(context.Background(), domain.ReservationKindStock, "order-1:stock")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if got.ID != "res-1" {
		t.Errorf("expected id res-1, got %s", got.ID)
	}
	if got.Status != domain.ReservationStatusReserved {
		t.Errorf("expected status reserved, got %s", got.Status)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("expected expires_at %v, got %v", expires, got.ExpiresAt)
	}
}

func TestReservationRepository_GetByKeyNotFound(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	mock.ExpectQuery(`SELECT .* FROM reservations`).
		WithArgs("stock", "order-9:stock").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByKey(context.Background(), domain.ReservationKindStock, "order-9:stock")
	if !errors.Is(err, domain.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestReservationRepository_GetByKeyEmptyKey(t *testing.T) {
	repo, _ := newMockReservationRepo(t)

	_, err := repo.GetByKey(context.Background(), domain.ReservationKindStock, "")
	if !errors.Is(err, domain.ErrReservationKeyRequired) {
		t.Fatalf("expected ErrReservationKeyRequired, got %v", err)
	}
}

func TestReservationRepository_UpdateStatus(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE reservations`).
		WithArgs("res-1", "confirmed", now, "reserved").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "res-1",
		domain.ReservationStatusReserved, domain.ReservationStatusConfirmed, now)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
}

func TestReservationRepository_UpdateStatusStale(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE reservations`).
		WithArgs("res-1", "cancelled", now, "reserved").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "res-1",
		domain.ReservationStatusReserved, domain.ReservationStatusCancelled, now)
	if !errors.Is(err, domain.ErrReservationStale) {
		t.Fatalf("expected ErrReservationStale, got %v", err)
	}
}

func TestReservationRepository_ListExpired(t *testing.T) {
	repo, mock := newMockReservationRepo(t)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "kind", "resource_id", "order_id", "reservation_key", "quantity",
		"status", "expires_at", "created_at", "updated_at",
	}).
		AddRow("res-1", "stock", "sku-1", "order-1", "order-1:stock", 2, "reserved", past, now, now).
		AddRow("res-2", "stock", "sku-2", "order-2", "order-2:stock", 1, "reserved", past, now, now)

	mock.ExpectQuery(`SELECT .* FROM reservations`).
		WithArgs("stock", now, 50).
		WillReturnRows(rows)

	expired, err := repo.ListExpired(context.Background(), domain.ReservationKindStock, now, 50)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired reservations, got %d", len(expired))
	}
	if expired[0].ID != "res-1" || expired[1].ID != "res-2" {
		t.Errorf("unexpected order: %s, %s", expired[0].ID, expired[1].ID)
	}
}
