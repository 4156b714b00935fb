package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Status представляет статус компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ErrDegraded помечает необязательный компонент: сервис работает, но в
// ограниченном режиме. Проверка возвращает ошибку, обёрнутую через
// fmt.Errorf("...: %w", ErrDegraded), и компонент считается degraded,
// а не unhealthy.
var ErrDegraded = errors.New("component degraded")

// Check — результат одной проверки здоровья.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — агрегированный ответ health check.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type registration struct {
	name string
	fn   func() error
}

// Handler агрегирует проверки компонентов и отвечает на /healthz.
// Проверки выполняются в порядке регистрации.
type Handler struct {
	mu        sync.RWMutex
	checks    []registration
	version   string
	startTime time.Time
}

// NewHandler создаёт health handler с версией сервиса.
func NewHandler(version string) *Handler {
	return &Handler{
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterFunc регистрирует проверку компонента под именем.
func (h *Handler) RegisterFunc(name string, checkFn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registration{name: name, fn: checkFn})
}

func (h *Handler) registrations() []registration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]registration(nil), h.checks...)
}

// runCheck выполняет одну проверку и замеряет её длительность.
func runCheck(reg registration) Check {
	start := time.Now()
	err := reg.fn()

	check := Check{
		Name:       reg.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		check.Status = StatusDegraded
		check.Message = err.Error()
	default:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// evaluate прогоняет все проверки и сводит их в общий статус.
func (h *Handler) evaluate() (Status, map[string]Check) {
	overall := StatusHealthy
	checks := make(map[string]Check)

	for _, reg := range h.registrations() {
		check := runCheck(reg)
		checks[reg.name] = check

		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return overall, checks
}

// ServeHTTP выполняет все проверки и возвращает агрегированный статус.
// Любой unhealthy-компонент даёт 503, degraded не роняет статус-код.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	overall, checks := h.evaluate()

	response := Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler отвечает 503, пока хотя бы один компонент unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if overall, _ := h.evaluate(); overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler — liveness probe, всегда 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
