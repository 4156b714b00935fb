package http

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/ticketchange/internal/domain"
)

// createOrderRequest — тело запроса POST /orders.
type createOrderRequest struct {
	Email     string                  `json:"email"`
	Currency  string                  `json:"currency"`
	Positions []createPositionRequest `json:"positions"`
}

type createPositionRequest struct {
	ItemID      string `json:"item_id"`
	VariationID string `json:"variation_id,omitempty"`
	// Price nil — цена товара по умолчанию из каталога.
	Price        *decimal.Decimal `json:"price,omitempty"`
	AttendeeName string           `json:"attendee_name,omitempty"`
}

// changeRequest — тело запроса POST /orders/:id/changes.
// Операции применяются как один атомарный набор.
type changeRequest struct {
	Operations     []changeOperationRequest `json:"operations"`
	Notify         bool                     `json:"notify,omitempty"`
	ReissueInvoice bool                     `json:"reissue_invoice,omitempty"`
}

type changeOperationRequest struct {
	Kind         string           `json:"kind"`
	PositionID   string           `json:"position_id,omitempty"`
	ItemID       string           `json:"item_id,omitempty"`
	VariationID  string           `json:"variation_id,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	AttendeeName string           `json:"attendee_name,omitempty"`
}

// cancelOrderRequest — тело запроса POST /orders/:id/cancel.
type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type positionResponse struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ItemID       string          `json:"item_id"`
	VariationID  string          `json:"variation_id,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Canceled     bool            `json:"canceled"`
	AttendeeName string          `json:"attendee_name,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CanceledAt   *time.Time      `json:"canceled_at,omitempty"`
}

type orderResponse struct {
	ID        string             `json:"id"`
	Email     string             `json:"email"`
	Status    string             `json:"status"`
	Currency  string             `json:"currency"`
	Total     decimal.Decimal    `json:"total"`
	Positions []positionResponse `json:"positions"`
	Version   int64              `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type changeSummaryResponse struct {
	OrderID           string          `json:"order_id"`
	CanceledPositions []string        `json:"canceled_positions,omitempty"`
	AddedPositions    []string        `json:"added_positions,omitempty"`
	PriceChanged      []string        `json:"price_changed,omitempty"`
	ItemChanged       []string        `json:"item_changed,omitempty"`
	SplitOrderID      string          `json:"split_order_id,omitempty"`
	OldTotal          decimal.Decimal `json:"old_total"`
	NewTotal          decimal.Decimal `json:"new_total"`
}

type timelineEventResponse struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

func toOrderResponse(order domain.Order) orderResponse {
	positions := make([]positionResponse, 0, len(order.Positions))
	for _, p := range order.Positions {
		positions = append(positions, positionResponse{
			ID:           p.ID,
			OrderID:      p.OrderID,
			ItemID:       p.ItemID,
			VariationID:  p.VariationID,
			Price:        p.Price,
			Canceled:     p.Canceled,
			AttendeeName: p.AttendeeName,
			CreatedAt:    p.CreatedAt,
			CanceledAt:   p.CanceledAt,
		})
	}

	resp := orderResponse{
		ID:        order.ID,
		Email:     order.Email,
		Status:    string(order.Status),
		Currency:  order.Currency,
		Total:     order.Total,
		Positions: positions,
		Version:   order.Version,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	if !order.ExpiresAt.IsZero() {
		expiresAt := order.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}

func toChangeSummaryResponse(summary domain.ChangeSummary) changeSummaryResponse {
	return changeSummaryResponse{
		OrderID:           summary.OrderID,
		CanceledPositions: summary.CanceledPositions,
		AddedPositions:    summary.AddedPositions,
		PriceChanged:      summary.PriceChanged,
		ItemChanged:       summary.ItemChanged,
		SplitOrderID:      summary.SplitOrderID,
		OldTotal:          summary.OldTotal,
		NewTotal:          summary.NewTotal,
	}
}

func toTimelineResponse(events []domain.TimelineEvent) []timelineEventResponse {
	out := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, timelineEventResponse{
			OrderID:  e.OrderID,
			Type:     e.Type,
			Reason:   e.Reason,
			Occurred: e.Occurred,
		})
	}
	return out
}
