package notify

import (
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/messaging/kafka"
)

// LogNotifier пишет уведомления в лог. Используется, когда Kafka не настроен.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

// OrderChanged логирует сводку изменения заказа.
func (n *LogNotifier) OrderChanged(order domain.Order, summary domain.ChangeSummary) error {
	n.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"email":     order.Email,
		"canceled":  len(summary.CanceledPositions),
		"added":     len(summary.AddedPositions),
		"new_total": summary.NewTotal.String(),
	}).Info("order change notification")
	return nil
}

// OrderCanceled логирует отмену заказа.
func (n *LogNotifier) OrderCanceled(order domain.Order, reason string) error {
	n.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"email":    order.Email,
		"reason":   reason,
	}).Info("order cancel notification")
	return nil
}

// KafkaNotifier публикует уведомления в Kafka topic для внешнего
// notification-сервиса (рассылка писем вне этого репозитория).
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
	logger   *log.Entry
}

// NewKafkaNotifier создаёт notifier поверх Kafka producer.
func NewKafkaNotifier(producer *kafka.Producer, topic string, logger *log.Entry) *KafkaNotifier {
	if topic == "" {
		topic = kafka.TopicNotifications
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-notifier")
	}
	return &KafkaNotifier{producer: producer, topic: topic, logger: logger}
}

// OrderChanged публикует событие об изменении заказа.
func (n *KafkaNotifier) OrderChanged(order domain.Order, summary domain.ChangeSummary) error {
	event := kafka.NewOrderEvent(kafka.EventTypeOrderChanged, order.ID, order.Email, string(order.Status), map[string]interface{}{
		"canceled_positions": summary.CanceledPositions,
		"added_positions":    summary.AddedPositions,
		"split_order_id":     summary.SplitOrderID,
		"new_total":          summary.NewTotal.String(),
	})
	return n.producer.PublishEvent(n.topic, order.ID, event)
}

// OrderCanceled публикует событие об отмене заказа.
func (n *KafkaNotifier) OrderCanceled(order domain.Order, reason string) error {
	event := kafka.NewOrderEvent(kafka.EventTypeOrderCanceled, order.ID, order.Email, string(order.Status), map[string]interface{}{
		"reason": reason,
	})
	return n.producer.PublishEvent(n.topic, order.ID, event)
}

var _ domain.Notifier = (*LogNotifier)(nil)
var _ domain.Notifier = (*KafkaNotifier)(nil)
