package lock

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MemoryExecutor — внутрипроцессный executor для тестов и локального
// запуска без Redis. Семантика ожидания та же: лок не взят за waitTime —
// ErrLockNotAcquired.
type MemoryExecutor struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryExecutor создаёт пустой executor.
func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{locks: make(map[string]chan struct{})}
}

func (e *MemoryExecutor) tryAcquire(key string) (chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if held, ok := e.locks[key]; ok {
		return held, false
	}

	released := make(chan struct{})
	e.locks[key] = released
	return released, true
}

func (e *MemoryExecutor) release(key string, released chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.locks, key)
	close(released)
}

// WithLock исполняет fn под локом key.
func (e *MemoryExecutor) WithLock(ctx context.Context, key string, waitTime, leaseTime time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.NewTimer(waitTime)
	defer deadline.Stop()

	for {
		held, ok := e.tryAcquire(key)
		if ok {
			defer e.release(key, held)
			return fn(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return domain.ErrLockNotAcquired
		case <-held:
			// владелец освободил лок, пробуем снова
		}
	}
}

var _ domain.LockExecutor = (*MemoryExecutor)(nil)
