package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/service/change"
)

const (
	// paymentTerm — срок оплаты размещённого заказа.
	paymentTerm = 30 * time.Minute
	// idempotencyTTL — время жизни записи idempotency-key.
	idempotencyTTL = 24 * time.Hour
	// idempotencyHeader — заголовок с ключом идемпотентности commit-запроса.
	idempotencyHeader = "Idempotency-Key"
)

// createOrder обрабатывает POST /v1/orders: резервирует квоту по всем
// позициям и создаёт заказ. Бесплатный заказ подтверждается сразу
// нулевым платежом, платный ждёт оплаты до истечения срока.
func (s *Server) createOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Currency = strings.TrimSpace(req.Currency)
	if req.Email == "" {
		return writeError(c, domain.ErrEmailRequired)
	}
	if req.Currency == "" {
		return writeError(c, domain.ErrCurrencyRequired)
	}
	if len(req.Positions) == 0 {
		return writeError(c, domain.ErrPositionsRequired)
	}

	now := time.Now().UTC()
	orderID := uuid.NewString()

	positions := make([]domain.Position, 0, len(req.Positions))
	deltas := make([]domain.QuotaDelta, 0, len(req.Positions))
	for _, p := range req.Positions {
		item, err := s.deps.Items.Get(p.ItemID)
		if err != nil {
			return writeError(c, err)
		}
		if !item.Active {
			return writeError(c, domain.ErrItemNotFound)
		}

		price := item.DefaultPrice
		if p.Price != nil {
			if p.Price.IsNegative() {
				return writeError(c, domain.ErrPositionPriceInvalid)
			}
			price = *p.Price
		}

		positions = append(positions, domain.Position{
			ID:           uuid.NewString(),
			OrderID:      orderID,
			ItemID:       p.ItemID,
			VariationID:  p.VariationID,
			Price:        price,
			AttendeeName: p.AttendeeName,
			CreatedAt:    now,
		})
		deltas = append(deltas, domain.QuotaDelta{ItemID: p.ItemID, VariationID: p.VariationID, Delta: 1})
	}

	order := domain.Order{
		ID:        orderID,
		Email:     req.Email,
		Status:    domain.OrderStatusPending,
		Currency:  req.Currency,
		Positions: positions,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.Total = order.CalcTotal()
	if order.Total.IsZero() {
		// Бесплатный заказ не ждёт оплаты.
		order.Status = domain.OrderStatusPaid
	} else {
		order.ExpiresAt = now.Add(paymentTerm)
	}

	if err := s.deps.Quotas.Reserve(order.ID, domain.MergeQuotaDeltas(deltas)); err != nil {
		return writeError(c, err)
	}

	if err := s.deps.Orders.Create(order); err != nil {
		if relErr := s.deps.Quotas.Release(order.ID, domain.MergeQuotaDeltas(deltas)); relErr != nil {
			s.logger.WithError(relErr).WithField("order_id", order.ID).Warn("compensating quota release failed")
		}
		return writeError(c, err)
	}

	if order.Total.IsZero() && s.deps.Payments != nil {
		payment := domain.NewFreePayment(order.ID, now)
		payment.ID = uuid.NewString()
		if err := s.deps.Payments.Create(payment); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("create free payment failed")
		}
	}

	if s.deps.Timeline != nil {
		event := domain.TimelineEvent{OrderID: order.ID, Type: "OrderPlaced", Occurred: now}
		if err := s.deps.Timeline.Append(event); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		}
	}

	s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"positions": len(order.Positions),
		"status":    order.Status,
	}).Info("order placed")

	return c.JSON(http.StatusCreated, toOrderResponse(order))
}

// getOrder обрабатывает GET /v1/orders/:id с чтением через кеш.
func (s *Server) getOrder(c echo.Context) error {
	orderID := c.Param("id")

	if order, ok := s.deps.Cache.Get(orderID); ok {
		return c.JSON(http.StatusOK, toOrderResponse(order))
	}

	order, err := s.deps.Orders.Get(orderID)
	if err != nil {
		return writeError(c, err)
	}
	s.deps.Cache.Set(order)

	return c.JSON(http.StatusOK, toOrderResponse(order))
}

// listOrders обрабатывает GET /v1/orders?email=...&limit=N.
func (s *Server) listOrders(c echo.Context) error {
	email := strings.TrimSpace(c.QueryParam("email"))
	if email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email query parameter is required"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}

	orders, err := s.deps.Orders.ListByEmail(email, limit)
	if err != nil {
		return writeError(c, err)
	}

	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, toOrderResponse(o))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// applyChanges обрабатывает POST /v1/orders/:id/changes: открывает change
// set, заявляет операции из тела запроса и коммитит их как один набор.
// Заголовок Idempotency-Key делает запрос безопасным для повторов: ответ
// первого выполнения сохраняется и отдаётся повторным запросам с тем же
// ключом и телом.
func (s *Server) applyChanges(c echo.Context) error {
	orderID := c.Param("id")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	var req changeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	idemKey := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if idemKey != "" && s.deps.Idempotency != nil {
		sum := sha256.Sum256(append([]byte(orderID+"\n"), body...))
		requestHash := hex.EncodeToString(sum[:])

		record, err := s.deps.Idempotency.CreateProcessing(idemKey, requestHash, time.Now().UTC().Add(idempotencyTTL))
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return writeError(c, err)
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			if record.Status == domain.IdempotencyStatusProcessing {
				return c.JSON(http.StatusConflict, echo.Map{"error": "request with this idempotency key is being processed"})
			}
			// Повтор завершённого запроса: отдаём сохранённый ответ.
			return c.JSONBlob(record.HTTPStatus, record.ResponseBody)
		case err != nil:
			return writeError(c, err)
		}
	}

	status, payload := s.runChangeSet(orderID, req)

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("marshal change response failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	if idemKey != "" && s.deps.Idempotency != nil {
		var markErr error
		if status >= 200 && status < 300 {
			markErr = s.deps.Idempotency.MarkDone(idemKey, raw, status)
		} else {
			markErr = s.deps.Idempotency.MarkFailed(idemKey, raw, status)
		}
		if markErr != nil {
			s.logger.WithError(markErr).WithField("order_id", orderID).Warn("store idempotent response failed")
		}
	}

	return c.JSONBlob(status, raw)
}

// runChangeSet выполняет набор операций и возвращает HTTP-статус с телом ответа.
func (s *Server) runChangeSet(orderID string, req changeRequest) (int, interface{}) {
	mgr, err := s.deps.Changes.NewChange(orderID, change.Options{
		Notify:         req.Notify,
		ReissueInvoice: req.ReissueInvoice,
	})
	if err != nil {
		return statusForError(err), echo.Map{"error": err.Error()}
	}

	for _, op := range req.Operations {
		var stageErr error
		switch domain.OperationKind(op.Kind) {
		case domain.OperationCancel:
			stageErr = mgr.CancelPosition(op.PositionID)
		case domain.OperationPriceChange:
			if op.Price == nil {
				return http.StatusBadRequest, echo.Map{"error": "price is required for price_change"}
			}
			stageErr = mgr.ChangePrice(op.PositionID, *op.Price)
		case domain.OperationItemChange:
			stageErr = mgr.ChangeItem(op.PositionID, op.ItemID, op.VariationID)
		case domain.OperationAdd:
			stageErr = mgr.AddPosition(op.ItemID, op.VariationID, op.Price, op.AttendeeName)
		case domain.OperationSplit:
			stageErr = mgr.SplitPositions(op.PositionID)
		default:
			return http.StatusBadRequest, echo.Map{"error": "unknown operation kind: " + op.Kind}
		}
		if stageErr != nil {
			return statusForError(stageErr), echo.Map{"error": stageErr.Error()}
		}
	}

	summary, err := mgr.Commit()
	if err != nil {
		return statusForError(err), echo.Map{"error": err.Error()}
	}

	s.deps.Cache.Invalidate(orderID)
	if summary.SplitOrderID != "" {
		s.deps.Cache.Invalidate(summary.SplitOrderID)
	}

	return http.StatusOK, toChangeSummaryResponse(summary)
}

// cancelOrder обрабатывает POST /v1/orders/:id/cancel.
func (s *Server) cancelOrder(c echo.Context) error {
	orderID := c.Param("id")

	var req cancelOrderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := s.deps.Changes.CancelOrder(orderID, req.Reason); err != nil {
		return writeError(c, err)
	}
	s.deps.Cache.Invalidate(orderID)

	order, err := s.deps.Orders.Get(orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toOrderResponse(order))
}

// getTimeline обрабатывает GET /v1/orders/:id/timeline.
func (s *Server) getTimeline(c echo.Context) error {
	orderID := c.Param("id")

	if _, err := s.deps.Orders.Get(orderID); err != nil {
		return writeError(c, err)
	}

	events, err := s.deps.Timeline.List(orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": toTimelineResponse(events)})
}
