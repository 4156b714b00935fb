package change

import "sync"

// orderLocks сериализует commit'ы по одному заказу: commit'ы разных заказов
// идут параллельно, commit'ы одного заказа выполняются строго по очереди.
type orderLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{entries: make(map[string]*lockEntry)}
}

// acquire блокирует заказ и возвращает функцию освобождения.
// Запись удаляется из реестра, когда последний владелец отпускает замок.
func (l *orderLocks) acquire(orderID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[orderID]
	if !ok {
		entry = &lockEntry{}
		l.entries[orderID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs <= 0 {
			delete(l.entries, orderID)
		}
		l.mu.Unlock()
	}
}
