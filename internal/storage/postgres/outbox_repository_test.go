package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func newMockRepo(t *testing.T) (*outboxRepository, sqlmock.Sqlmock) {
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

	return &outboxRepository{db: db}, mock
}

func TestOutboxRepository_Enqueue(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(
			sqlmock.AnyArg(),
			"order",
			"order-1",
			"OrderFailedEvent",
			[]byte(`{}`),
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "OrderFailedEvent",
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected generated id")
	}
	if msg.Status != domain.OutboxStatusReady {
		t.Errorf("expected status ready, got %s", msg.Status)
	}
}

func TestOutboxRepository_PullReady(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "aggregate_type", "aggregate_id", "event_type", "payload",
		"status", "retry_count", "created_at", "updated_at",
	}).
		AddRow("m-1", "reservation", "order-1", "ReserveStock", []byte(`{}`), "ready", 0, now, now).
		AddRow("m-2", "order", "order-1", "OrderFailedEvent", []byte(`{}`), "ready", 2, now, now)

	mock.ExpectQuery(`SELECT .* FROM outbox_messages`).
		WithArgs("ready", 10).
		WillReturnRows(rows)

	msgs, err := repo.PullReady(context.Background(), 10)
	if err != nil {
		t.Fatalf("PullReady: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m-1" || msgs[0].Status != domain.OutboxStatusReady {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", msgs[1].RetryCount)
	}
}

func TestOutboxRepository_MarkSent(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs("m-1", "sent", sqlmock.AnyArg(), "ready").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkSent(context.Background(), "m-1"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
}

func TestOutboxRepository_MarkSent_AlreadyTransitioned(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs("m-1", "sent", sqlmock.AnyArg(), "ready").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkSent(context.Background(), "m-1")
	if !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}

func TestOutboxRepository_IncrementRetry(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`UPDATE outbox_messages`).
		WithArgs("m-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(3))

	count, err := repo.IncrementRetry(context.Background(), "m-1")
	if err != nil {
		t.Fatalf("IncrementRetry: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected retry count 3, got %d", count)
	}
}

func TestOutboxRepository_Requeue(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs("m-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Requeue(context.Background(), "m-1"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
}

func TestOutboxRepository_Stats(t *testing.T) {
	repo, mock := newMockRepo(t)

	oldest := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"ready", "failed", "oldest"}).AddRow(4, 1, oldest))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ReadyCount != 4 || stats.FailedCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !stats.OldestReadyAt.Equal(oldest) {
		t.Fatalf("expected oldest %s, got %s", oldest, stats.OldestReadyAt)
	}
}
