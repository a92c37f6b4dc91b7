package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/breaker"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/lock"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// Dependencies содержит инфраструктурные зависимости приложения.
type Dependencies struct {
	Store *postgres.Store
	Redis *redis.Client

	Tx           domain.TxManager
	Orders       domain.OrderRepository
	Outbox       domain.OutboxRepository
	Processed    domain.ProcessedEventRepository
	Reservations domain.ReservationRepository
	Resources    domain.ResourceRepository

	Payments       domain.PaymentService
	PaymentBreaker *breaker.Breaker
	Lock           domain.LockExecutor
	Health         *health.Registry
	Clock          domain.Clock
	Logger         *log.Entry
}

// NewDependencies собирает зависимости по конфигурации. Без PostgreSQL DSN
// репозитории работают в памяти, без Redis лок внутрипроцессный — оба
// режима годятся только для локального запуска одного экземпляра.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Health: health.NewRegistry(),
		Clock:  domain.SystemClock(),
		Logger: logger,
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.Store = store
		deps.Tx = postgres.NewTxManager(store)
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		deps.Processed = postgres.NewProcessedEventRepository(store)
		deps.Reservations = postgres.NewReservationRepository(store)
		deps.Resources = postgres.NewResourceRepository(store)
		deps.Health.Register("postgres", store.Ping)
		logger.Info("postgres storage initialized")
	} else {
		deps.Tx = memory.NewTxManager()
		deps.Orders = memory.NewOrderRepository()
		deps.Outbox = memory.NewOutboxRepository()
		deps.Processed = memory.NewProcessedEventRepository()
		deps.Reservations = memory.NewReservationRepository()
		deps.Resources = memory.NewResourceRepository()
		logger.Warn("postgres dsn is empty, using in-memory storage")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, err
		}
		deps.Redis = client
		deps.Lock = lock.NewRedisExecutor(client)
		deps.Health.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.WithField("addr", cfg.RedisAddr).Info("redis lock initialized")
	} else {
		deps.Lock = lock.NewMemoryExecutor()
		logger.Warn("redis addr is empty, using in-process lock")
	}

	paymentBreaker := breaker.New("payments",
		breaker.WithThresholds(cfg.PaymentErrorThreshold, 2),
		breaker.WithCooldown(cfg.PaymentCooldown),
	)
	// TODO: заменить mock на клиент реального платёжного провайдера,
	// когда его API станет доступен.
	provider := payment.NewMockService()
	deps.Payments = breaker.WrapPayment(provider, paymentBreaker)
	deps.PaymentBreaker = paymentBreaker
	deps.Health.Register("payments", provider.Ping)

	return deps, nil
}

// Close освобождает подключения к внешним системам.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
