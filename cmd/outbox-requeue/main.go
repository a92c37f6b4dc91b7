// outbox-requeue возвращает failed-записи transactional outbox в статус
// ready. Применяется после устранения причины сбоя публикации: воркер
// подхватит возвращённые записи в обычном цикле.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

func main() {
	var (
		dsn     string
		limit   int
		execute bool
	)

	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: FF_POSTGRES_DSN)")
	flag.IntVar(&limit, "limit", 100, "max number of failed records to requeue")
	flag.BoolVar(&execute, "execute", false, "apply changes (default is dry-run)")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("FF_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("FF_POSTGRES_DSN (or -dsn) is required")
	}

	logger := log.WithField("component", "outbox-requeue")

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	requeued, err := requeueFailed(ctx, postgres.NewOutboxRepository(store), limit, execute, logger)
	if err != nil {
		fail("requeue failed records: %v", err)
	}

	if !execute {
		fmt.Printf("dry-run: %d failed records would be requeued (use -execute to apply)\n", requeued)
		return
	}
	fmt.Printf("requeued %d failed records\n", requeued)
}

// requeueFailed возвращает записи в ready по одной: частичный прогон при
// ошибке оставляет уже возвращённые записи в работе.
func requeueFailed(ctx context.Context, repo domain.OutboxRepository, limit int, execute bool, logger *log.Entry) (int, error) {
	failed, err := repo.PullFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("pull failed records: %w", err)
	}

	count := 0
	for _, msg := range failed {
		logger.WithFields(log.Fields{
			"outbox_id":    msg.ID,
			"event_type":   msg.EventType,
			"aggregate_id": msg.AggregateID,
			"retry_count":  msg.RetryCount,
		}).Info("failed outbox record")

		if !execute {
			count++
			continue
		}
		if err := repo.Requeue(ctx, msg.ID); err != nil {
			return count, fmt.Errorf("requeue %s: %w", msg.ID, err)
		}
		count++
	}
	return count, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
