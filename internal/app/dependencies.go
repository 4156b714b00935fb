package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/messaging/kafka"
	"github.com/avolkov/ticketchange/internal/service/notify"
	redisstore "github.com/avolkov/ticketchange/internal/storage/redis"
)

// newOrderCache создаёт Redis-кеш заказов, если указан адрес.
// Недоступный Redis деградирует до выключенного кеша, а не до ошибки запуска.
func newOrderCache(cfg Config, logger *log.Entry) *redisstore.OrderCache {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if client == nil {
		return nil
	}

	logger.WithField("addr", cfg.RedisAddr).Info("order cache enabled")
	return redisstore.NewOrderCache(client, cfg.CacheTTL)
}

// newNotifier выбирает notifier: Kafka при наличии producer'а, иначе лог.
func newNotifier(producer *kafka.Producer, cfg Config, logger *log.Entry) domain.Notifier {
	if producer != nil {
		return notify.NewKafkaNotifier(producer, cfg.NotificationsTopic, logger.WithField("component", "kafka-notifier"))
	}
	return notify.NewLogNotifier(logger.WithField("component", "notifier"))
}
