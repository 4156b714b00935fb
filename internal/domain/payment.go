package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentProviderFree — провайдер для бесплатных заказов: подтверждается сразу.
const PaymentProviderFree = "free"

// PaymentState описывает состояние платежа по заказу.
type PaymentState string

const (
	// PaymentStateCreated — платёж создан, подтверждение не получено.
	PaymentStateCreated PaymentState = "created"
	// PaymentStateConfirmed — платёж подтверждён.
	PaymentStateConfirmed PaymentState = "confirmed"
	// PaymentStateRefunded — платёж возвращён (при отмене заказа).
	PaymentStateRefunded PaymentState = "refunded"
	// PaymentStateFailed — платёж не прошёл.
	PaymentStateFailed PaymentState = "failed"
)

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	ID        string
	OrderID   string
	Provider  string
	State     PaymentState
	Amount    decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	switch {
	case p.OrderID == "":
		errs = append(errs, ErrOrderIDRequired)
	case p.Provider == "":
		errs = append(errs, ErrPaymentProviderRequired)
	case p.Amount.IsNegative():
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}

// NewFreePayment создаёт подтверждённый платёж на ноль для бесплатного заказа.
func NewFreePayment(orderID string, now time.Time) Payment {
	return Payment{
		OrderID:   orderID,
		Provider:  PaymentProviderFree,
		State:     PaymentStateConfirmed,
		Amount:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
