package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// NewClient создаёт подключение к Redis и проверяет его коротким ping.
// При недоступном сервере возвращает nil: кеш заказов опционален, и
// вызывающий код обязан работать без него.
func NewClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.WithField("component", "redis").WithError(err).Warn("redis is unavailable, order cache disabled")
		_ = client.Close()
		return nil
	}

	return client
}
