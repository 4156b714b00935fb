package change

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
)

const (
	commitMaxRetries = 3
	commitBaseDelay  = 10 * time.Millisecond
)

// prepared — результат validate+apply в памяти, до какой-либо записи.
type prepared struct {
	updated  domain.Order
	split    *domain.Order
	summary  domain.ChangeSummary
	reserve  []domain.QuotaDelta // чистый прирост потребления, проверяется под замком
	release  []domain.QuotaDelta // снимается только после успешного persist
	payments []domain.Payment
}

// commit сериализует работу по заказу, валидирует набор целиком и применяет
// его как одну атомарную запись. Version conflict приводит к повторной
// валидации на свежем состоянии, а не к слепому повтору записи.
func (s *Service) commit(orderID string, ops []domain.ChangeOperation, opts Options) (domain.ChangeSummary, error) {
	unlock := s.locks.acquire(orderID)
	defer unlock()

	if len(ops) == 0 {
		// Пустой набор — допустимый no-op.
		return domain.ChangeSummary{OrderID: orderID}, nil
	}

	for attempt := 0; ; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			return domain.ChangeSummary{}, err
		}

		prep, err := s.prepare(order, ops)
		if err != nil {
			s.recordRejection(err)
			return domain.ChangeSummary{}, err
		}

		// Прирост потребления резервируем до записи: под замком заказа
		// два конкурентных commit'а не могут одновременно увидеть один
		// и тот же свободный остаток.
		if len(prep.reserve) > 0 {
			if err := s.quotas.Reserve(orderID, prep.reserve); err != nil {
				if errors.Is(err, domain.ErrQuotaExceeded) && s.metrics != nil {
					s.metrics.RecordQuotaDenied()
				}
				s.recordRejection(err)
				return domain.ChangeSummary{}, fmt.Errorf("reserve quota: %w", err)
			}
		}

		persistErr := s.persist(prep)
		if persistErr == nil {
			s.finishCommit(prep, opts)
			return prep.summary, nil
		}

		// Компенсация: записали резерв, но сам commit не состоялся.
		if len(prep.reserve) > 0 {
			if relErr := s.quotas.Release(orderID, prep.reserve); relErr != nil {
				s.logger.WithError(relErr).WithField("order_id", orderID).
					Error("failed to release quota after aborted commit")
			}
		}

		if domain.IsVersionConflict(persistErr) && attempt < commitMaxRetries-1 {
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
			}).Warn("version conflict during commit, revalidating")
			time.Sleep(commitBaseDelay * time.Duration(1<<uint(attempt)))
			continue
		}

		return domain.ChangeSummary{}, fmt.Errorf("persist change: %w", persistErr)
	}
}

// prepare валидирует набор против свежего состояния и строит применённый
// в памяти результат. Никаких записей здесь нет.
func (s *Service) prepare(order domain.Order, ops []domain.ChangeOperation) (prepared, error) {
	if !order.IsChangeable() {
		return prepared{}, fmt.Errorf("order %s in status %s: %w", order.ID, order.Status, domain.ErrOrderNotChangeable)
	}

	cancels := make(map[string]struct{})
	splits := make(map[string]struct{})
	adds := 0

	// Первый проход: ссылки и конфликты на свежем состоянии.
	for _, op := range ops {
		switch op.Kind {
		case domain.OperationCancel, domain.OperationPriceChange, domain.OperationItemChange, domain.OperationSplit:
			pos, ok := order.Position(op.PositionID)
			if !ok {
				return prepared{}, fmt.Errorf("position %s: %w", op.PositionID, domain.ErrPositionNotInOrder)
			}
			if pos.Canceled {
				return prepared{}, fmt.Errorf("position %s: %w", op.PositionID, domain.ErrPositionAlreadyCanceled)
			}
		}

		switch op.Kind {
		case domain.OperationCancel:
			if _, dup := cancels[op.PositionID]; dup {
				return prepared{}, fmt.Errorf("position %s: %w", op.PositionID, domain.ErrPositionAlreadyCanceled)
			}
			cancels[op.PositionID] = struct{}{}
		case domain.OperationSplit:
			if _, dup := splits[op.PositionID]; dup {
				return prepared{}, fmt.Errorf("position %s: %w", op.PositionID, domain.ErrOperationConflict)
			}
			splits[op.PositionID] = struct{}{}
		case domain.OperationAdd:
			adds++
		}
	}
	for id := range cancels {
		if _, both := splits[id]; both {
			return prepared{}, fmt.Errorf("position %s staged for cancel and split: %w", id, domain.ErrOperationConflict)
		}
	}

	// Правило непустого результата: позиционные операции не могут опустошить
	// заказ. Для этого существует отдельный order-level cancel.
	remaining := len(order.ActivePositions()) - len(cancels) - len(splits) + adds
	if remaining <= 0 {
		return prepared{}, fmt.Errorf("order %s: %w", order.ID, domain.ErrOrderEmptied)
	}

	now := time.Now().UTC()
	prep := prepared{
		updated: order,
		summary: domain.ChangeSummary{OrderID: order.ID, OldTotal: order.Total},
	}
	prep.updated.Positions = make([]domain.Position, len(order.Positions))
	copy(prep.updated.Positions, order.Positions)

	var deltas []domain.QuotaDelta
	index := make(map[string]int, len(prep.updated.Positions))
	for i, p := range prep.updated.Positions {
		index[p.ID] = i
	}

	// Второй проход: применение к копии.
	for _, op := range ops {
		switch op.Kind {
		case domain.OperationCancel:
			p := &prep.updated.Positions[index[op.PositionID]]
			p.Canceled = true
			canceledAt := now
			p.CanceledAt = &canceledAt
			deltas = append(deltas, domain.QuotaDelta{ItemID: p.ItemID, VariationID: p.VariationID, Delta: -1})
			prep.summary.CanceledPositions = append(prep.summary.CanceledPositions, p.ID)

		case domain.OperationPriceChange:
			p := &prep.updated.Positions[index[op.PositionID]]
			p.Price = *op.Price
			prep.summary.PriceChanged = append(prep.summary.PriceChanged, p.ID)

		case domain.OperationItemChange:
			if _, err := s.items.Get(op.ItemID); err != nil {
				return prepared{}, fmt.Errorf("item %s: %w", op.ItemID, err)
			}
			p := &prep.updated.Positions[index[op.PositionID]]
			if p.ItemID != op.ItemID || p.VariationID != op.VariationID {
				deltas = append(deltas,
					domain.QuotaDelta{ItemID: p.ItemID, VariationID: p.VariationID, Delta: -1},
					domain.QuotaDelta{ItemID: op.ItemID, VariationID: op.VariationID, Delta: 1},
				)
				p.ItemID = op.ItemID
				p.VariationID = op.VariationID
			}
			prep.summary.ItemChanged = append(prep.summary.ItemChanged, p.ID)

		case domain.OperationAdd:
			item, err := s.items.Get(op.ItemID)
			if err != nil {
				return prepared{}, fmt.Errorf("item %s: %w", op.ItemID, err)
			}
			price := item.DefaultPrice
			if op.Price != nil {
				price = *op.Price
			}
			pos := domain.Position{
				ID:           uuid.NewString(),
				OrderID:      order.ID,
				ItemID:       op.ItemID,
				VariationID:  op.VariationID,
				Price:        price,
				AttendeeName: op.AttendeeName,
				CreatedAt:    now,
			}
			prep.updated.Positions = append(prep.updated.Positions, pos)
			deltas = append(deltas, domain.QuotaDelta{ItemID: pos.ItemID, VariationID: pos.VariationID, Delta: 1})
			prep.summary.AddedPositions = append(prep.summary.AddedPositions, pos.ID)
		}
	}

	// Split: переносим выбранные позиции в новый заказ той же валюты и статуса.
	if len(splits) > 0 {
		splitOrder := domain.Order{
			ID:        uuid.NewString(),
			Email:     order.Email,
			Status:    order.Status,
			Currency:  order.Currency,
			Version:   0,
			CreatedAt: now,
			ExpiresAt: order.ExpiresAt,
			UpdatedAt: now,
		}

		kept := prep.updated.Positions[:0]
		for _, p := range prep.updated.Positions {
			if _, move := splits[p.ID]; move {
				p.OrderID = splitOrder.ID
				splitOrder.Positions = append(splitOrder.Positions, p)
				continue
			}
			kept = append(kept, p)
		}
		prep.updated.Positions = kept
		splitOrder.Total = splitOrder.CalcTotal()

		// Бесплатный выделенный заказ сразу получает подтверждённый платёж.
		if splitOrder.Status == domain.OrderStatusPaid && splitOrder.Total.IsZero() {
			payment := domain.NewFreePayment(splitOrder.ID, now)
			payment.ID = uuid.NewString()
			prep.payments = append(prep.payments, payment)
		}

		prep.split = &splitOrder
		prep.summary.SplitOrderID = splitOrder.ID
	}

	prep.updated.Total = prep.updated.CalcTotal()
	prep.updated.UpdatedAt = now
	prep.summary.NewTotal = prep.updated.Total

	for _, d := range domain.MergeQuotaDeltas(deltas) {
		if d.Delta > 0 {
			prep.reserve = append(prep.reserve, d)
		} else {
			prep.release = append(prep.release, domain.QuotaDelta{
				ItemID:      d.ItemID,
				VariationID: d.VariationID,
				Delta:       -d.Delta,
			})
		}
	}

	return prep, nil
}

// persist записывает результат commit'а одной атомарной единицей.
func (s *Service) persist(prep prepared) error {
	if prep.split != nil {
		return s.orders.SaveAll([]domain.Order{prep.updated, *prep.split})
	}
	return s.orders.Save(prep.updated)
}

// finishCommit выполняет пост-commit шаги: освобождение квоты отменённых
// позиций, события, уведомления. Ошибки здесь логируются и не откатывают
// уже состоявшийся commit.
func (s *Service) finishCommit(prep prepared, opts Options) {
	order := prep.updated

	if len(prep.release) > 0 {
		if err := s.quotas.Release(order.ID, prep.release); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("quota release after commit failed")
		}
	}

	for _, payment := range prep.payments {
		if s.payments == nil {
			break
		}
		if err := s.payments.Create(payment); err != nil {
			s.logger.WithError(err).WithField("order_id", payment.OrderID).Warn("create payment for split order failed")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordChangeCommitted()
		s.metrics.RecordPositionsCanceled(len(prep.summary.CanceledPositions))
		s.metrics.RecordPositionsAdded(len(prep.summary.AddedPositions))
	}

	s.emitEvent(&order, "OrderChanged", map[string]interface{}{
		"canceled":  prep.summary.CanceledPositions,
		"added":     prep.summary.AddedPositions,
		"new_total": prep.summary.NewTotal.String(),
		"ts":        order.UpdatedAt.Format(time.RFC3339Nano),
	})
	if prep.split != nil {
		s.emitEvent(prep.split, "OrderSplit", map[string]interface{}{
			"source_order_id": order.ID,
			"ts":              order.UpdatedAt.Format(time.RFC3339Nano),
		})
	}

	if opts.Notify && s.notifier != nil && !prep.summary.Empty() {
		if err := s.notifier.OrderChanged(order, prep.summary); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("change notification failed")
		}
	}
	if opts.ReissueInvoice && s.invoicer != nil {
		if err := s.invoicer.Reissue(order); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("invoice reissue failed")
		}
	}

	s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"canceled":  len(prep.summary.CanceledPositions),
		"added":     len(prep.summary.AddedPositions),
		"new_total": prep.summary.NewTotal.String(),
	}).Info("order change committed")
}

func (s *Service) recordRejection(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordChangeRejected(rejectionReason(err))
}

// rejectionReason сворачивает ошибку валидации в label для метрик.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOrderEmptied):
		return "emptied"
	case errors.Is(err, domain.ErrPositionNotInOrder):
		return "foreign_position"
	case errors.Is(err, domain.ErrPositionAlreadyCanceled):
		return "already_canceled"
	case errors.Is(err, domain.ErrOperationConflict):
		return "conflict"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, domain.ErrOrderNotChangeable):
		return "not_changeable"
	case errors.Is(err, domain.ErrItemNotFound):
		return "unknown_item"
	default:
		return "other"
	}
}
