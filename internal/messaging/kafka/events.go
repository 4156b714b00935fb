package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// EventType определяет тип события.
type EventType string

const (
	// Order события
	EventTypeOrderPlaced   EventType = "order.placed"
	EventTypeOrderChanged  EventType = "order.changed"
	EventTypeOrderCanceled EventType = "order.canceled"
	EventTypeOrderSplit    EventType = "order.split"

	// Position события
	EventTypePositionCanceled EventType = "position.canceled"
	EventTypePositionAdded    EventType = "position.added"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "tcs.order.events"
	TopicNotifications   = "tcs.notifications"
	TopicDeadLetterQueue = "tcs.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие заказа.
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Email     string                 `json:"email,omitempty"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создаёт новое событие заказа.
func NewOrderEvent(eventType EventType, orderID, email, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		Email:     email,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// ParseOrderEvent декодирует событие заказа из сообщения Kafka.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal order event: %w", err)
	}
	return &event, nil
}
