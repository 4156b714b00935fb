package domain

import (
	"github.com/shopspring/decimal"
)

// OperationKind перечисляет виды операций набора изменений.
type OperationKind string

const (
	// OperationCancel — отмена позиции (soft-cancel).
	OperationCancel OperationKind = "cancel"
	// OperationPriceChange — изменение цены позиции.
	OperationPriceChange OperationKind = "price_change"
	// OperationItemChange — перенос позиции на другой товар/вариацию.
	OperationItemChange OperationKind = "item_change"
	// OperationAdd — добавление новой позиции в заказ.
	OperationAdd OperationKind = "add"
	// OperationSplit — выделение позиции в отдельный заказ.
	OperationSplit OperationKind = "split"
)

// ChangeOperation — одна заявленная, ещё не применённая операция.
// Представление как tagged variant позволяет валидировать весь набор
// исчерпывающим switch до какой-либо мутации.
type ChangeOperation struct {
	Kind OperationKind
	// PositionID заполнен для cancel/price_change/item_change/split.
	PositionID string
	// ItemID/VariationID заполнены для add и item_change.
	ItemID      string
	VariationID string
	// Price заполнена для price_change; для add nil означает цену товара по умолчанию.
	Price *decimal.Decimal
	// AttendeeName заполнено для add.
	AttendeeName string
}

// ChangeSummary описывает применённый набор изменений; передаётся нотификатору.
type ChangeSummary struct {
	OrderID           string
	CanceledPositions []string
	AddedPositions    []string
	PriceChanged      []string
	ItemChanged       []string
	// SplitOrderID заполнен, если часть позиций выделена в новый заказ.
	SplitOrderID string
	OldTotal     decimal.Decimal
	NewTotal     decimal.Decimal
}

// Empty сообщает, что набор не затронул ни одной позиции.
func (s ChangeSummary) Empty() bool {
	return len(s.CanceledPositions) == 0 &&
		len(s.AddedPositions) == 0 &&
		len(s.PriceChanged) == 0 &&
		len(s.ItemChanged) == 0 &&
		s.SplitOrderID == ""
}
