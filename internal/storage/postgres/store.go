package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Store — подключение к PostgreSQL, общее для всех репозиториев сервиса.
// Одна база держит заказы, резервы, outbox и dedup-отметки: это условие
// работы локальных транзакций TxManager.
type Store struct {
	db *sql.DB
}

// StoreOption настраивает параметры пула подключений.
type StoreOption func(*storeConfig)

type storeConfig struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// WithMaxOpenConns ограничивает количество одновременных подключений.
func WithMaxOpenConns(n int) StoreOption {
	return func(cfg *storeConfig) {
		if n > 0 {
			cfg.maxOpenConns = n
		}
	}
}

// WithConnMaxLifetime задаёт максимальное время жизни подключения в пуле.
func WithConnMaxLifetime(d time.Duration) StoreOption {
	return func(cfg *storeConfig) {
		if d > 0 {
			cfg.connMaxLifetime = d
		}
	}
}

// Open открывает подключение к PostgreSQL через pgx stdlib-драйвер и
// проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	cfg := storeConfig{
		maxOpenConns:    defaultMaxOpenConns,
		maxIdleConns:    defaultMaxIdleConns,
		connMaxLifetime: defaultConnMaxLifetime,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxIdleConns)
	db.SetConnMaxLifetime(cfg.connMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения. Используется health-пробами.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
