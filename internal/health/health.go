package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Status представляет статус зависимости
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

// CheckFunc выполняет проверку одной зависимости
type CheckFunc func(ctx context.Context) error

// Check представляет результат проверки зависимости
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Registry хранит именованные проверки внешних зависимостей
type Registry struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewRegistry создаёт пустой реестр проверок
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]CheckFunc)}
}

// Register регистрирует проверку зависимости service
func (r *Registry) Register(service string, check CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[service] = check
}

// Check выполняет проверку одной зависимости по имени
func (r *Registry) Check(ctx context.Context, service string) error {
	r.mu.RLock()
	check, ok := r.checks[service]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("health: unknown service %q", service)
	}
	return check(ctx)
}

// Services возвращает имена всех зарегистрированных зависимостей
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]string, 0, len(r.checks))
	for name := range r.checks {
		services = append(services, name)
	}
	return services
}

var _ domain.HealthChecker = (*Registry)(nil)

// Handler обрабатывает health check запросы
type Handler struct {
	registry     *Registry
	version      string
	startTime    time.Time
	checkTimeout time.Duration
}

// NewHandler создаёт новый health handler поверх реестра проверок
func NewHandler(registry *Registry, version string) *Handler {
	return &Handler{
		registry:     registry,
		version:      version,
		startTime:    time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

func (h *Handler) runCheck(ctx context.Context, name string) Check {
	checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	start := time.Now()
	err := h.registry.Check(checkCtx, name)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}
	return Check{
		Name:       name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}

// ServeHTTP обрабатывает HTTP запрос
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	for _, name := range h.registry.Services() {
		check := h.runCheck(r.Context(), name)
		checks[name] = check

		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		}
	}

	response := Response{
		Status:        overallStatus,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler проверяет готовность к обработке событий
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	for _, name := range h.registry.Services() {
		if check := h.runCheck(r.Context(), name); check.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
