package change

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/ticketchange/internal/domain"
)

// State описывает жизненный цикл change set'а.
type State string

const (
	// StateOpen — набор принимает операции.
	StateOpen State = "open"
	// StateCommitting — идёт валидация и применение.
	StateCommitting State = "committing"
	// StateCommitted — набор применён, терминальное состояние.
	StateCommitted State = "committed"
	// StateRejected — валидация провалилась, ничего не сохранено; терминальное состояние.
	StateRejected State = "rejected"
)

// Options задаёт side effect'ы change set'а.
type Options struct {
	// Notify — уведомить покупателя после успешного commit.
	Notify bool
	// ReissueInvoice — перевыставить инвойс после успешного commit.
	ReissueInvoice bool
}

// Manager накапливает операции над одним заказом и применяет их атомарно.
// Операции до Commit не имеют никакого durable-эффекта; после Commit
// (успешного или нет) набор закрыт.
type Manager struct {
	svc   *Service
	opts  Options
	order domain.Order // снимок на момент открытия

	mu    sync.Mutex
	state State
	ops   []domain.ChangeOperation
}

// State возвращает текущее состояние набора.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Operations возвращает копию заявленных операций.
func (m *Manager) Operations() []domain.ChangeOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]domain.ChangeOperation, len(m.ops))
	copy(ops, m.ops)
	return ops
}

// CancelPosition заявляет отмену позиции. Отмена уже отменённой позиции
// (в базе или в этом же наборе) отклоняется сразу, а не на commit.
func (m *Manager) CancelPosition(positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return domain.ErrChangeClosed
	}

	pos, ok := m.order.Position(positionID)
	if !ok {
		return fmt.Errorf("cancel position %s: %w", positionID, domain.ErrPositionNotInOrder)
	}
	if pos.Canceled {
		return fmt.Errorf("cancel position %s: %w", positionID, domain.ErrPositionAlreadyCanceled)
	}

	for _, op := range m.ops {
		if op.PositionID != positionID {
			continue
		}
		switch op.Kind {
		case domain.OperationCancel:
			return fmt.Errorf("cancel position %s: %w", positionID, domain.ErrPositionAlreadyCanceled)
		case domain.OperationSplit:
			return fmt.Errorf("cancel position %s staged for split: %w", positionID, domain.ErrOperationConflict)
		}
	}

	m.ops = append(m.ops, domain.ChangeOperation{
		Kind:       domain.OperationCancel,
		PositionID: positionID,
	})
	return nil
}

// ChangePrice заявляет изменение цены позиции.
// Совмещение с отменой той же позиции допустимо, повторное изменение цены — нет.
func (m *Manager) ChangePrice(positionID string, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return domain.ErrChangeClosed
	}
	if price.IsNegative() {
		return domain.ErrPositionPriceInvalid
	}

	pos, ok := m.order.Position(positionID)
	if !ok {
		return fmt.Errorf("change price of position %s: %w", positionID, domain.ErrPositionNotInOrder)
	}
	if pos.Canceled {
		return fmt.Errorf("change price of position %s: %w", positionID, domain.ErrPositionAlreadyCanceled)
	}

	for _, op := range m.ops {
		if op.PositionID == positionID && op.Kind == domain.OperationPriceChange {
			return fmt.Errorf("price already staged for position %s: %w", positionID, domain.ErrOperationConflict)
		}
	}

	m.ops = append(m.ops, domain.ChangeOperation{
		Kind:       domain.OperationPriceChange,
		PositionID: positionID,
		Price:      &price,
	})
	return nil
}

// ChangeItem заявляет перенос позиции на другой товар/вариацию.
func (m *Manager) ChangeItem(positionID, itemID, variationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return domain.ErrChangeClosed
	}

	pos, ok := m.order.Position(positionID)
	if !ok {
		return fmt.Errorf("change item of position %s: %w", positionID, domain.ErrPositionNotInOrder)
	}
	if pos.Canceled {
		return fmt.Errorf("change item of position %s: %w", positionID, domain.ErrPositionAlreadyCanceled)
	}

	if _, err := m.svc.items.Get(itemID); err != nil {
		return fmt.Errorf("change item of position %s to %s: %w", positionID, itemID, err)
	}

	for _, op := range m.ops {
		if op.PositionID == positionID && op.Kind == domain.OperationItemChange {
			return fmt.Errorf("item already staged for position %s: %w", positionID, domain.ErrOperationConflict)
		}
	}

	m.ops = append(m.ops, domain.ChangeOperation{
		Kind:        domain.OperationItemChange,
		PositionID:  positionID,
		ItemID:      itemID,
		VariationID: variationID,
	})
	return nil
}

// AddPosition заявляет добавление новой позиции. Цена nil означает цену
// товара по умолчанию (подставляется на commit по свежему каталогу).
func (m *Manager) AddPosition(itemID, variationID string, price *decimal.Decimal, attendeeName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return domain.ErrChangeClosed
	}
	if price != nil && price.IsNegative() {
		return domain.ErrPositionPriceInvalid
	}

	item, err := m.svc.items.Get(itemID)
	if err != nil {
		return fmt.Errorf("add position for item %s: %w", itemID, err)
	}
	if !item.Active {
		return fmt.Errorf("item %s is not for sale: %w", itemID, domain.ErrItemNotFound)
	}

	m.ops = append(m.ops, domain.ChangeOperation{
		Kind:         domain.OperationAdd,
		ItemID:       itemID,
		VariationID:  variationID,
		Price:        price,
		AttendeeName: attendeeName,
	})
	return nil
}

// SplitPositions заявляет выделение позиций в отдельный заказ.
func (m *Manager) SplitPositions(positionIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen {
		return domain.ErrChangeClosed
	}

	for _, id := range positionIDs {
		pos, ok := m.order.Position(id)
		if !ok {
			return fmt.Errorf("split position %s: %w", id, domain.ErrPositionNotInOrder)
		}
		if pos.Canceled {
			return fmt.Errorf("split position %s: %w", id, domain.ErrPositionAlreadyCanceled)
		}
		for _, op := range m.ops {
			if op.PositionID == id && (op.Kind == domain.OperationCancel || op.Kind == domain.OperationSplit) {
				return fmt.Errorf("split position %s: %w", id, domain.ErrOperationConflict)
			}
		}
	}

	for _, id := range positionIDs {
		m.ops = append(m.ops, domain.ChangeOperation{
			Kind:       domain.OperationSplit,
			PositionID: id,
		})
	}
	return nil
}

// Commit валидирует весь набор против свежего состояния заказа и применяет
// его атомарно. При любой ошибке валидации durable-состояние не меняется.
// Набор после Commit закрыт независимо от исхода.
func (m *Manager) Commit() (domain.ChangeSummary, error) {
	m.mu.Lock()
	if m.state != StateOpen {
		m.mu.Unlock()
		return domain.ChangeSummary{}, domain.ErrChangeClosed
	}
	m.state = StateCommitting
	ops := make([]domain.ChangeOperation, len(m.ops))
	copy(ops, m.ops)
	m.mu.Unlock()

	start := time.Now()
	summary, err := m.svc.commit(m.order.ID, ops, m.opts)

	m.mu.Lock()
	if err != nil {
		m.state = StateRejected
	} else {
		m.state = StateCommitted
	}
	m.mu.Unlock()

	if m.svc.metrics != nil {
		m.svc.metrics.RecordCommitDuration(time.Since(start))
		m.svc.metrics.RecordChangeClosed()
	}

	return summary, err
}
