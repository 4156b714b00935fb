package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item — товар каталога (тип билета), на который ссылаются позиции.
type Item struct {
	ID   string
	Name string
	// DefaultPrice используется для add-операций без явной цены.
	DefaultPrice decimal.Decimal
	Active       bool
	CreatedAt    time.Time
}

// Validate проверяет поля товара.
func (i *Item) Validate() []error {
	var errs []error

	if i.Name == "" {
		errs = append(errs, ErrItemNameRequired)
	}
	if i.DefaultPrice.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}

	return errs
}
