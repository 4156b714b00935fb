package domain

import "time"

// QuotaService описывает учёт потребления квот по товарам/вариациям.
type QuotaService interface {
	// Available возвращает остаток ёмкости для пары товар/вариация.
	Available(itemID, variationID string) (int64, error)
	// Reserve атомарно применяет дельты (Delta > 0 — прирост потребления),
	// проверяя ёмкость. Возвращает ErrQuotaExceeded, если хотя бы одна дельта
	// не помещается; в этом случае ни одна дельта не применяется.
	Reserve(orderID string, deltas []QuotaDelta) error
	// Release снимает потребление: Delta задаёт освобождаемое количество
	// (положительное). Используется при отмене позиций и как компенсация
	// неудачного commit.
	Release(orderID string, deltas []QuotaDelta) error
}

// Notifier уведомляет покупателя об изменении заказа. Вызывается ровно один
// раз после успешного commit; ошибка нотификации не откатывает commit.
type Notifier interface {
	OrderChanged(order Order, summary ChangeSummary) error
	OrderCanceled(order Order, reason string) error
}

// Invoicer перевыставляет инвойс по заказу после изменения.
type Invoicer interface {
	Reissue(order Order) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит историю изменений заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// ChangeStep задаёт константы шагов commit для метрик/логов.
type ChangeStep string

const (
	ChangeStepValidate ChangeStep = "validate"
	ChangeStepReserve  ChangeStep = "reserve"
	ChangeStepPersist  ChangeStep = "persist"
	ChangeStepRelease  ChangeStep = "release"
	ChangeStepNotify   ChangeStep = "notify"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
