package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа билетов.
type OrderStatus string

const (
	// OrderStatusPending — заказ размещён, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена (бесплатные заказы подтверждаются сразу).
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusExpired — срок оплаты истёк, позиции больше не держат квоту.
	OrderStatusExpired OrderStatus = "expired"
	// OrderStatusCanceled — заказ отменён целиком через order-level cancel.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Position представляет одну позицию (билет) внутри заказа.
// Позиция принадлежит ровно одному заказу и никогда не удаляется физически:
// отмена выставляет флаг Canceled ровно один раз, обратного перехода нет.
type Position struct {
	ID          string
	OrderID     string
	ItemID      string
	VariationID string
	Price       decimal.Decimal
	Canceled    bool
	// AttendeeName — имя посетителя, на которого оформлен билет.
	AttendeeName string
	CreatedAt    time.Time
	CanceledAt   *time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID     string
	Email  string
	Status OrderStatus
	// Currency — код валюты заказа; все позиции номинированы в ней же.
	Currency string
	// Total — сумма цен всех неотменённых позиций.
	Total     decimal.Decimal
	Positions []Position
	Version   int64
	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// ActivePositions возвращает неотменённые позиции заказа.
func (o *Order) ActivePositions() []Position {
	active := make([]Position, 0, len(o.Positions))
	for _, p := range o.Positions {
		if !p.Canceled {
			active = append(active, p)
		}
	}
	return active
}

// Position ищет позицию заказа по идентификатору.
func (o *Order) Position(id string) (Position, bool) {
	for _, p := range o.Positions {
		if p.ID == id {
			return p, true
		}
	}
	return Position{}, false
}

// CalcTotal считает сумму цен неотменённых позиций.
func (o *Order) CalcTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.Positions {
		if p.Canceled {
			continue
		}
		total = total.Add(p.Price)
	}
	return total
}

// IsChangeable сообщает, допускает ли статус заказа изменение позиций.
func (o *Order) IsChangeable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPaid
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Email == "" {
		errs = append(errs, ErrEmailRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Positions) == 0 {
		errs = append(errs, ErrPositionsRequired)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrTotalNegative)
	}

	for _, p := range o.Positions {
		if p.ItemID == "" {
			errs = append(errs, ErrItemIDRequired)
		}
		if p.Price.IsNegative() {
			errs = append(errs, ErrPositionPriceInvalid)
		}
	}

	// Сверяем итог заказа с суммой активных позиций.
	if !o.CalcTotal().Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
