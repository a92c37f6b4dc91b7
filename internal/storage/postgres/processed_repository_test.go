package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func newMockProcessedRepo(t *testing.T) (*processedRepository, sqlmock.Sqlmock) {
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

	return &processedRepository{db: db}, mock
}

func TestProcessedRepository_Exists(t *testing.T) {
	repo, mock := newMockProcessedRepo(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("expected event to be recorded")
	}
}

func TestProcessedRepository_ExistsEmptyID(t *testing.T) {
	repo, _ := newMockProcessedRepo(t)

	_, err := repo.Exists(context.Background(), "")
	if !errors.Is(err, domain.ErrEventIDRequired) {
		t.Fatalf("expected ErrEventIDRequired, got %v", err)
	}
}

func TestProcessedRepository_Record(t *testing.T) {
	repo, mock := newMockProcessedRepo(t)

	mock.ExpectExec(`INSERT INTO processed_events`).
		WithArgs("evt-1", "StockReservedEvent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), domain.ProcessedEvent{
		EventID:   "evt-1",
		EventType: "StockReservedEvent",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestProcessedRepository_RecordDuplicate(t *testing.T) {
	repo, mock := newMockProcessedRepo(t)

	mock.ExpectExec(`INSERT INTO processed_events`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Record(context.Background(), domain.ProcessedEvent{
		EventID:   "evt-1",
		EventType: "StockReservedEvent",
	})
	if !errors.Is(err, domain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}
}

func TestProcessedRepository_DeleteOlderThan(t *testing.T) {
	repo, mock := newMockProcessedRepo(t)

	before := time.Now().UTC().Add(-7 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM processed_events`).
		WithArgs(before, 500).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.DeleteOlderThan(context.Background(), before, 500)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 42 {
		t.Errorf("expected 42 deleted, got %d", deleted)
	}
}

func TestProcessedRepository_DeleteOlderThanNoLimit(t *testing.T) {
	repo, mock := newMockProcessedRepo(t)

	before := time.Now().UTC().Add(-time.Hour)
	mock.ExpectExec(`DELETE FROM processed_events`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteOlderThan(context.Background(), before, 0)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}
}
