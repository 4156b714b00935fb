package domain

import "time"

// TimelineEvent — запись в истории заказа: размещение, применённый change
// set, отмена. Историю отдаёт GET /v1/orders/{id}/timeline.
type TimelineEvent struct {
	OrderID string
	// Type — что произошло с заказом, например OrderPlaced или OrderCanceled.
	Type string
	// Reason — необязательное пояснение (причина отмены и т.п.).
	Reason   string
	Occurred time.Time
}
