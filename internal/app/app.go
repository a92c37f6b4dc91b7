package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/dedup"
	svcoutbox "github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/reservation"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/saga"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// setupLogger применяет уровень и формат логирования из конфигурации.
func setupLogger(cfg Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// Run собирает и запускает приложение: хранилище, Kafka, фоновые воркеры
// и служебный HTTP-сервер. Блокируется до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	setupLogger(cfg)
	logger := log.WithField("component", "app")
	logger.Info(version.String())

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	sagaMetrics := metrics.NewSagaMetrics()
	gate := dedup.NewGate(deps.Tx, deps.Processed, deps.Clock)

	reservationSvc := reservation.NewService(
		deps.Tx,
		deps.Reservations,
		deps.Resources,
		deps.Outbox,
		deps.Clock,
		reservation.WithLockExecutor(deps.Lock),
		reservation.WithTTL(cfg.ReservationTTL),
	)
	coordinator := saga.NewCoordinator(
		deps.Tx,
		deps.Orders,
		deps.Outbox,
		deps.Payments,
		deps.Clock,
		saga.WithMetrics(sagaMetrics),
	)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		return err
	}
	defer closeProducer(producer, logger)

	var workers sync.WaitGroup
	runWorker := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(ctx)
		}()
	}

	var consumers []*kafka.Consumer
	if producer != nil {
		worker := svcoutbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(producer),
			svcoutbox.WithPollInterval(cfg.OutboxPollInterval),
			svcoutbox.WithBatchSize(cfg.OutboxBatchSize),
			svcoutbox.WithMaxRetry(cfg.OutboxMaxRetry),
			svcoutbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)),
		)
		runWorker(worker.Run)

		sagaConsumer, reservationConsumer, err := initConsumers(
			cfg,
			saga.NewHandler(gate, coordinator),
			reservation.NewHandler(gate, reservationSvc),
			producer,
		)
		if err != nil {
			return err
		}
		consumers = append(consumers, sagaConsumer, reservationConsumer)

		for _, consumer := range consumers {
			if err := consumer.Start(ctx); err != nil {
				return err
			}
		}
	} else {
		logger.Warn("kafka brokers are empty, running without message bus")
	}

	sweeper := reservation.NewSweeper(reservationSvc, reservation.WithSweepInterval(cfg.SweepInterval))
	runWorker(sweeper.Run)

	retention := dedup.NewRetentionWorker(
		deps.Processed,
		deps.Clock,
		dedup.WithRetention(cfg.DedupRetention),
		dedup.WithInterval(cfg.DedupCleanupInterval),
	)
	runWorker(retention.Run)

	// Сбои опроса платёжной зависимости питают её breaker: цепь открывается
	// по фоновым проверкам, не дожидаясь упавших боевых вызовов.
	prober := health.NewProber(deps.Health,
		health.WithProbeInterval(cfg.HealthProbeInterval),
		health.WithProbeListener(func(service string, err error) {
			if err != nil && service == deps.PaymentBreaker.Service() {
				deps.PaymentBreaker.RecordFailure()
			}
		}),
	)
	runWorker(prober.Run)

	httpSrv := startHTTPServer(cfg.HTTPAddr, deps.Health, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}

	stopped := make(chan struct{})
	go func() {
		workers.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("workers did not stop within shutdown timeout")
	}

	shutdownHTTP(httpSrv, logger)
	return ctx.Err()
}

// startHTTPServer поднимает служебный HTTP: метрики и health checks.
func startHTTPServer(addr string, registry *health.Registry, logger *log.Entry) *http.Server {
	handler := health.NewHandler(registry, version.String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", handler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", handler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.WithField("addr", addr).Info("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("http server failed")
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
