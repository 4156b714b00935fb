package notify

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/messaging/kafka"
)

var deliveredNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tcs_notifications_delivered_total",
	Help: "Notifications handed off to delivery grouped by event type.",
}, []string{"event_type"})

// NewDeliveryHandler возвращает обработчик топика уведомлений: декодирует
// событие заказа и передаёт его в доставку. Отправку писем выполняет
// внешний канал, здесь фиксируется сам факт передачи.
// Нечитаемый payload — ошибка (уйдёт в retry/DLQ); событие без адресата
// доставлять некому, оно пропускается.
func NewDeliveryHandler(logger *log.Entry) kafka.MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "notify-dispatcher")
	}

	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		event, err := kafka.ParseOrderEvent(message)
		if err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		if event.OrderID == "" {
			return fmt.Errorf("notification without order id (offset %d)", message.Offset)
		}

		fields := log.Fields{
			"order_id":   event.OrderID,
			"event_type": event.EventType,
		}

		if event.Email == "" {
			logger.WithFields(fields).Warn("notification skipped: no recipient")
			return nil
		}

		switch event.EventType {
		case kafka.EventTypeOrderChanged, kafka.EventTypeOrderSplit:
			logger.WithFields(fields).WithField("email", event.Email).Info("order change email queued")
		case kafka.EventTypeOrderCanceled:
			logger.WithFields(fields).WithField("email", event.Email).Info("order cancellation email queued")
		default:
			logger.WithFields(fields).Warn("notification with unexpected event type skipped")
			return nil
		}

		deliveredNotifications.WithLabelValues(string(event.EventType)).Inc()
		return nil
	}
}
