package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// txKey — ключ контекста для передачи открытой транзакции в репозитории.
type txKey struct{}

// Querier объединяет *sql.DB и *sql.Tx: репозитории работают через него и
// автоматически присоединяются к транзакции вызывающего, если она есть.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager исполняет функции в одной локальной транзакции PostgreSQL.
// Это опора ключевого инварианта outbox-паттерна: бизнес-запись и запись
// события коммитятся или откатываются вместе.
type TxManager struct {
	db *sql.DB
}

// NewTxManager создаёт TxManager поверх подключения Store.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{db: store.DB()}
}

// WithTx открывает транзакцию, кладёт её в контекст и исполняет fn.
// Ошибка fn откатывает транзакцию целиком. Вложенный вызов присоединяется
// к уже открытой транзакции вместо открытия новой.
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// queryer возвращает транзакцию из контекста или raw-подключение.
func queryer(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}
