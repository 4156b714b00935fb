package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/ticketchange/internal/domain"
)

// outboxStatus описывает состояние записи в outbox.
type outboxStatus string

const (
	outboxStatusPending outboxStatus = "pending"
	outboxStatusSent    outboxStatus = "sent"
	outboxStatusFailed  outboxStatus = "failed"
)

// outboxRecord — внутреннее представление записи outbox с метаданными доставки.
type outboxRecord struct {
	msg       domain.OutboxMessage
	status    outboxStatus
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepositoryInMemory хранит transactional outbox в памяти.
type OutboxRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]*outboxRecord
	now   func() time.Time
}

// NewOutboxRepository возвращает in-memory outbox-репозиторий.
func NewOutboxRepository() *OutboxRepositoryInMemory {
	return &OutboxRepositoryInMemory{
		items: make(map[string]*outboxRecord),
		now:   time.Now,
	}
}

// Enqueue сохраняет сообщение со статусом pending. Пустой ID заполняется UUID.
func (r *OutboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	now := r.now()
	r.items[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений в статусе pending,
// старые раньше новых.
func (r *OutboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]*outboxRecord, 0, len(r.items))
	for _, rec := range r.items {
		if rec.status == outboxStatusPending {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].createdAt.Equal(records[j].createdAt) {
			return records[i].createdAt.Before(records[j].createdAt)
		}
		return records[i].msg.ID < records[j].msg.ID
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самой старой pending-записи.
func (r *OutboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.OutboxStats{}
	for _, rec := range r.items {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent помечает сообщение доставленным.
func (r *OutboxRepositoryInMemory) MarkSent(id string) error {
	return r.setStatus(id, outboxStatusSent)
}

// MarkFailed увеличивает счётчик попыток и возвращает сообщение в pending,
// чтобы worker забрал его снова.
func (r *OutboxRepositoryInMemory) MarkFailed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.attempts++
	rec.status = outboxStatusPending
	rec.updatedAt = r.now()
	return nil
}

// Attempts возвращает число неудачных попыток доставки сообщения.
// Используется в тестах worker'а.
func (r *OutboxRepositoryInMemory) Attempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.items[id]; ok {
		return rec.attempts
	}
	return 0
}

func (r *OutboxRepositoryInMemory) setStatus(id string, status outboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.items[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	rec.status = status
	rec.updatedAt = r.now()
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepositoryInMemory)(nil)
