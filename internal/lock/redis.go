package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const defaultRetryInterval = 50 * time.Millisecond

// releaseScript удаляет ключ только если токен совпадает: лок, чей lease
// уже истёк и был перехвачен другим владельцем, чужим release не снимается.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisExecutor реализует распределённый лок поверх Redis: SET NX PX
// для захвата, Lua compare-and-delete для освобождения.
type RedisExecutor struct {
	client        *redis.Client
	retryInterval time.Duration
	logger        *log.Entry
}

// RedisOption настраивает RedisExecutor.
type RedisOption func(*RedisExecutor)

// WithRetryInterval задаёт паузу между попытками захвата.
func WithRetryInterval(interval time.Duration) RedisOption {
	return func(e *RedisExecutor) {
		e.retryInterval = interval
	}
}

// WithLockLogger задаёт логгер.
func WithLockLogger(logger *log.Entry) RedisOption {
	return func(e *RedisExecutor) {
		e.logger = logger
	}
}

// NewRedisExecutor создаёт executor поверх подключённого клиента Redis.
func NewRedisExecutor(client *redis.Client, options ...RedisOption) *RedisExecutor {
	e := &RedisExecutor{
		client:        client,
		retryInterval: defaultRetryInterval,
	}
	for _, option := range options {
		option(e)
	}
	if e.logger == nil {
		e.logger = log.WithField("component", "redis_lock")
	}
	if e.retryInterval <= 0 {
		e.retryInterval = defaultRetryInterval
	}
	return e
}

// WithLock исполняет fn под локом key. Захват повторяется до waitTime,
// лок живёт не дольше leaseTime и истекает сам, если владелец умер.
func (e *RedisExecutor) WithLock(ctx context.Context, key string, waitTime, leaseTime time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	acquired, err := e.acquire(ctx, key, token, waitTime, leaseTime)
	if err != nil {
		return err
	}
	if !acquired {
		return domain.ErrLockNotAcquired
	}

	defer e.release(key, token)

	return fn(ctx)
}

func (e *RedisExecutor) acquire(ctx context.Context, key, token string, waitTime, leaseTime time.Duration) (bool, error) {
	deadline := time.Now().Add(waitTime)

	for {
		ok, err := e.client.SetNX(ctx, key, token, leaseTime).Result()
		if err != nil {
			return false, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(e.retryInterval):
		}
	}
}

// release снимает лок в отдельном контексте: отмена рабочего контекста
// не должна оставлять ключ висеть до конца lease.
func (e *RedisExecutor) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, e.client, []string{key}, token).Err(); err != nil {
		e.logger.WithField("key", key).WithError(err).Warn("failed to release lock")
	}
}

var _ domain.LockExecutor = (*RedisExecutor)(nil)
