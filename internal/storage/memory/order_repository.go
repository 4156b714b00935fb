package memory

import (
	"sort"
	"sync"

	"github.com/avolkov/ticketchange/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByEmail возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByEmail(email string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.Email != email {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ и его позиции, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveLocked(order)
}

// SaveAll атомарно сохраняет несколько заказов: сначала проверяются все
// версии, затем применяются все записи. Заказы с Version == 0, которых
// нет в хранилище, создаются.
func (r *orderRepositoryInMemory) SaveAll(orders []domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, order := range orders {
		current, exists := r.items[order.ID]
		if !exists {
			if order.Version != 0 {
				return domain.ErrOrderNotFound
			}
			continue
		}
		if current.Version != order.Version {
			return domain.ErrOrderVersionConflict
		}
	}

	for _, order := range orders {
		if _, exists := r.items[order.ID]; exists {
			if err := r.saveLocked(order); err != nil {
				return err
			}
			continue
		}
		r.items[order.ID] = cloneOrder(order)
	}

	return nil
}

func (r *orderRepositoryInMemory) saveLocked(order domain.Order) error {
	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// cloneOrder копирует заказ вместе с позициями, чтобы избежать
// непредсказуемых мутаций извне.
func cloneOrder(order domain.Order) domain.Order {
	positions := make([]domain.Position, len(order.Positions))
	copy(positions, order.Positions)
	for i := range positions {
		if positions[i].CanceledAt != nil {
			t := *positions[i].CanceledAt
			positions[i].CanceledAt = &t
		}
	}
	order.Positions = positions
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
