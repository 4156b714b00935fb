package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
)

const cacheOpTimeout = 500 * time.Millisecond

// OrderCache кеширует заказы для читающих запросов. Запись в кеш идёт
// best-effort: любая ошибка Redis деградирует до прямого чтения из
// хранилища и не влияет на ответ сервиса. После commit изменения заказ
// обязан быть инвалидирован, иначе читатели увидят устаревшую версию.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewOrderCache создаёт кеш поверх клиента Redis. Нулевой client допустим
// и означает выключенный кеш.
func NewOrderCache(client *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &OrderCache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "order-cache"),
	}
}

// Enabled сообщает, подключён ли кеш к живому Redis.
func (c *OrderCache) Enabled() bool {
	return c != nil && c.client != nil
}

func orderCacheKey(orderID string) string {
	return "tcs:order:" + orderID
}

// Get возвращает заказ из кеша. Второй результат false означает промах
// или недоступный кеш.
func (c *OrderCache) Get(orderID string) (domain.Order, bool) {
	if !c.Enabled() {
		return domain.Order{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, orderCacheKey(orderID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("order_id", orderID).Warn("order cache read failed")
		}
		return domain.Order{}, false
	}

	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("order cache entry is corrupted")
		c.Invalidate(orderID)
		return domain.Order{}, false
	}

	return order, true
}

// Set записывает заказ в кеш с TTL.
func (c *OrderCache) Set(order domain.Order) {
	if !c.Enabled() {
		return
	}

	raw, err := json.Marshal(order)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("order cache encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, orderCacheKey(order.ID), raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("order_id", order.ID).Warn("order cache write failed")
	}
}

// Invalidate удаляет заказ из кеша. Вызывается после каждого commit,
// включая split, где меняются сразу несколько заказов.
func (c *OrderCache) Invalidate(orderIDs ...string) {
	if !c.Enabled() || len(orderIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		keys = append(keys, orderCacheKey(id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("order cache invalidation failed")
	}
}
