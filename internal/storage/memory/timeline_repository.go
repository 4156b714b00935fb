package memory

import (
	"sync"
	"time"

	"github.com/avolkov/ticketchange/internal/domain"
)

// timelineRepositoryInMemory хранит историю заказов в памяти. Используется
// memory-драйвером хранилища и юнит-тестами сервисного слоя.
type timelineRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
	nowFunc func() time.Time
}

// NewTimelineRepository возвращает in-memory репозиторий таймлайна.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{
		byOrder: make(map[string][]domain.TimelineEvent),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Append дописывает событие в историю заказа. Как и PostgreSQL-реализация,
// заполняет нулевое время текущим, чтобы поведение драйверов совпадало.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Occurred.IsZero() {
		event.Occurred = r.nowFunc()
	}
	r.byOrder[event.OrderID] = append(r.byOrder[event.OrderID], event)
	return nil
}

// List возвращает копию истории заказа в порядке добавления.
func (r *timelineRepositoryInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.byOrder[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
