package change

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/metrics"
)

// Deps перечисляет зависимости движка изменения заказов.
// Notifier и Invoicer опциональны: nil означает отсутствие side effect'ов.
type Deps struct {
	Orders   domain.OrderRepository
	Items    domain.ItemRepository
	Payments domain.PaymentRepository
	Quotas   domain.QuotaService
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
	Notifier domain.Notifier
	Invoicer domain.Invoicer
	Logger   *log.Entry
}

// Service — точка входа движка: открывает change set'ы для заказов
// и выполняет order-level отмену.
type Service struct {
	orders   domain.OrderRepository
	items    domain.ItemRepository
	payments domain.PaymentRepository
	quotas   domain.QuotaService
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	notifier domain.Notifier
	invoicer domain.Invoicer
	locks    *orderLocks
	logger   *log.Entry
	metrics  *metrics.ChangeMetrics
}

// NewService создаёт рабочий экземпляр движка.
func NewService(deps Deps) *Service {
	svc := newService(deps)
	svc.metrics = metrics.NewChangeMetrics()
	return svc
}

// NewServiceWithoutMetrics создаёт движок без метрик (для тестов).
func NewServiceWithoutMetrics(deps Deps) *Service {
	return newService(deps)
}

func newService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "change")
	}
	return &Service{
		orders:   deps.Orders,
		items:    deps.Items,
		payments: deps.Payments,
		quotas:   deps.Quotas,
		outbox:   deps.Outbox,
		timeline: deps.Timeline,
		notifier: deps.Notifier,
		invoicer: deps.Invoicer,
		locks:    newOrderLocks(),
		logger:   logger,
		metrics:  nil,
	}
}

// NewChange открывает change set для заказа. Снимок заказа фиксируется
// на момент открытия; commit перечитывает заказ и валидирует набор заново.
func (s *Service) NewChange(orderID string, opts Options) (*Manager, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsChangeable() {
		return nil, fmt.Errorf("open change for order %s in status %s: %w",
			order.ID, order.Status, domain.ErrOrderNotChangeable)
	}

	if s.metrics != nil {
		s.metrics.RecordChangeOpened()
	}

	return &Manager{
		svc:   s,
		order: order,
		opts:  opts,
		state: StateOpen,
	}, nil
}

// CancelOrder отменяет заказ целиком: отдельный переход состояния со своими
// side effect'ами (полный возврат, освобождение квоты всего заказа).
// Позиционные операции до этого перехода не доходят (rule: order cannot be
// emptied by position-level changes).
func (s *Service) CancelOrder(orderID, reason string) error {
	unlock := s.locks.acquire(orderID)
	defer unlock()

	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderStatusCanceled {
		s.logger.WithField("order_id", order.ID).Debug("order already canceled")
		return nil
	}

	order.Status = domain.OrderStatusCanceled
	order.UpdatedAt = time.Now().UTC()
	if err := s.saveWithRetry(&order); err != nil {
		return err
	}

	// Квоту считаем по той версии заказа, которая реально сохранилась:
	// retry мог перечитать заказ с иным набором активных позиций.
	deltas := make([]domain.QuotaDelta, 0, len(order.Positions))
	for _, p := range order.ActivePositions() {
		deltas = append(deltas, domain.QuotaDelta{ItemID: p.ItemID, VariationID: p.VariationID, Delta: 1})
	}

	if len(deltas) > 0 {
		if err := s.quotas.Release(order.ID, domain.MergeQuotaDeltas(deltas)); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("quota release after cancel failed")
		}
	}

	s.refundPayments(&order)

	if s.metrics != nil {
		s.metrics.RecordOrderCanceled()
	}

	payload := map[string]interface{}{
		"reason": reason,
		"ts":     order.UpdatedAt.Format(time.RFC3339Nano),
	}
	if reason == "" {
		delete(payload, "reason")
	}
	s.emitEvent(&order, "OrderCanceled", payload)

	if s.notifier != nil {
		if err := s.notifier.OrderCanceled(order, reason); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("cancel notification failed")
		}
	}

	return nil
}

// refundPayments переводит подтверждённые платежи заказа в refunded.
// Для провайдера free это чистая смена состояния.
func (s *Service) refundPayments(order *domain.Order) {
	if s.payments == nil {
		return
	}

	payments, err := s.payments.ListByOrder(order.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("list payments for refund failed")
		return
	}
	for _, p := range payments {
		if p.State != domain.PaymentStateConfirmed {
			continue
		}
		p.State = domain.PaymentStateRefunded
		p.UpdatedAt = time.Now().UTC()
		if err := s.payments.Save(p); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id":   order.ID,
				"payment_id": p.ID,
			}).Warn("refund payment failed")
		}
	}
}

// saveWithRetry сохраняет заказ с retry на version conflict
// (exponential backoff, перезагрузка свежей версии между попытками).
func (s *Service) saveWithRetry(order *domain.Order) error {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.orders.Save(*order)
		if err == nil {
			order.Version++
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxRetries-1 {
			return err
		}

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		fresh, loadErr := s.orders.Get(order.ID)
		if loadErr != nil {
			return loadErr
		}
		status := order.Status
		*order = fresh
		order.Status = status
		order.UpdatedAt = time.Now().UTC()

		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return domain.ErrOrderVersionConflict
}

// emitEvent кладёт событие в outbox и дублирует его в timeline заказа.
func (s *Service) emitEvent(order *domain.Order, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	if s.outbox != nil {
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := s.outbox.Enqueue(msg); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if s.metrics != nil {
			s.metrics.RecordOutboxEvent()
		}
	}

	if s.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: time.Now().UTC(),
		}
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}
}
