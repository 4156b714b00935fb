package memory

import (
	"sync"

	"github.com/avolkov/ticketchange/internal/domain"
)

// itemRepositoryInMemory хранит каталог товаров в памяти.
type itemRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Item
}

// NewItemRepository возвращает in-memory репозиторий каталога.
func NewItemRepository() domain.ItemRepository {
	return &itemRepositoryInMemory{
		items: make(map[string]domain.Item),
	}
}

func (r *itemRepositoryInMemory) Create(item domain.Item) error {
	if errs := item.Validate(); len(errs) > 0 {
		return errs[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[item.ID] = item
	return nil
}

func (r *itemRepositoryInMemory) Get(id string) (domain.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

var _ domain.ItemRepository = (*itemRepositoryInMemory)(nil)
