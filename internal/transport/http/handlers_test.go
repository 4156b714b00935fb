package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/avolkov/ticketchange/internal/domain"
	"github.com/avolkov/ticketchange/internal/service/change"
	"github.com/avolkov/ticketchange/internal/service/quota"
	"github.com/avolkov/ticketchange/internal/storage/memory"
)

type testServer struct {
	srv    *Server
	orders domain.OrderRepository
	items  domain.ItemRepository
	quotas *quota.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	orders := memory.NewOrderRepository()
	items := memory.NewItemRepository()
	payments := memory.NewPaymentRepository()
	timeline := memory.NewTimelineRepository()
	idem := memory.NewIdempotencyRepository()
	outbox := memory.NewOutboxRepository()
	quotas := quota.NewService(log.New().WithField("component", "quota-test"))

	now := time.Now().UTC()
	if err := items.Create(domain.Item{ID: "item-ticket", Name: "Ticket", DefaultPrice: decimal.Zero, Active: true, CreatedAt: now}); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	if err := items.Create(domain.Item{ID: "item-vip", Name: "VIP", DefaultPrice: decimal.NewFromInt(50), Active: true, CreatedAt: now}); err != nil {
		t.Fatalf("seed vip item: %v", err)
	}
	quotas.Define("item-ticket", "", 100)
	quotas.Define("item-vip", "", 100)

	svc := change.NewServiceWithoutMetrics(change.Deps{
		Orders:   orders,
		Items:    items,
		Payments: payments,
		Quotas:   quotas,
		Outbox:   outbox,
		Timeline: timeline,
		Logger:   log.New().WithField("component", "change-test"),
	})

	srv := NewServer(Deps{
		Changes:     svc,
		Orders:      orders,
		Items:       items,
		Payments:    payments,
		Quotas:      quotas,
		Timeline:    timeline,
		Idempotency: idem,
		Cache:       nil,
		Logger:      log.New().WithField("component", "http-test"),
	})

	return &testServer{srv: srv, orders: orders, items: items, quotas: quotas}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) placeOrder(t *testing.T, body string) orderResponse {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/v1/orders", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	return resp
}

func TestCreateOrder_FreeOrderConfirmedImmediately(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [
			{"item_id": "item-ticket", "attendee_name": "Alice"},
			{"item_id": "item-ticket", "attendee_name": "Bob"}
		]
	}`)

	if resp.Status != string(domain.OrderStatusPaid) {
		t.Fatalf("expected free order to be paid, got %s", resp.Status)
	}
	if !resp.Total.IsZero() {
		t.Fatalf("expected zero total, got %s", resp.Total)
	}
	if len(resp.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(resp.Positions))
	}
	if resp.ExpiresAt != nil {
		t.Fatal("free order must not have a payment term")
	}

	left, err := ts.quotas.Available("item-ticket", "")
	if err != nil {
		t.Fatalf("quota available: %v", err)
	}
	if left != 98 {
		t.Fatalf("expected quota 98 after placement, got %d", left)
	}
}

func TestCreateOrder_PaidOrderPendingWithTerm(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [{"item_id": "item-vip"}]
	}`)

	if resp.Status != string(domain.OrderStatusPending) {
		t.Fatalf("expected pending order, got %s", resp.Status)
	}
	if resp.ExpiresAt == nil {
		t.Fatal("paid order must carry a payment term")
	}
	if !resp.Total.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected default catalog price 50, got %s", resp.Total)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing email", `{"currency":"EUR","positions":[{"item_id":"item-ticket"}]}`, http.StatusBadRequest},
		{"missing currency", `{"email":"a@b.c","positions":[{"item_id":"item-ticket"}]}`, http.StatusBadRequest},
		{"no positions", `{"email":"a@b.c","currency":"EUR","positions":[]}`, http.StatusBadRequest},
		{"unknown item", `{"email":"a@b.c","currency":"EUR","positions":[{"item_id":"nope"}]}`, http.StatusNotFound},
		{"negative price", `{"email":"a@b.c","currency":"EUR","positions":[{"item_id":"item-ticket","price":"-1"}]}`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := ts.do(t, http.MethodPost, "/v1/orders", tc.body, nil)
		if rec.Code != tc.want {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestCreateOrder_QuotaExceeded(t *testing.T) {
	ts := newTestServer(t)
	ts.quotas.Define("item-vip", "", 0)

	rec := ts.do(t, http.MethodPost, "/v1/orders", `{
		"email": "a@b.c",
		"currency": "EUR",
		"positions": [{"item_id": "item-vip"}]
	}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on exceeded quota, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetOrder(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [{"item_id": "item-ticket"}]
	}`)

	rec := ts.do(t, http.MethodGet, "/v1/orders/"+placed.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var got orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if got.ID != placed.ID || got.Version != 1 {
		t.Fatalf("unexpected order: %+v", got)
	}

	rec = ts.do(t, http.MethodGet, "/v1/orders/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing order, got %d", rec.Code)
	}
}

func TestListOrders(t *testing.T) {
	ts := newTestServer(t)

	ts.placeOrder(t, `{"email":"alice@example.com","currency":"EUR","positions":[{"item_id":"item-ticket"}]}`)
	ts.placeOrder(t, `{"email":"alice@example.com","currency":"EUR","positions":[{"item_id":"item-ticket"}]}`)

	rec := ts.do(t, http.MethodGet, "/v1/orders?email=alice@example.com", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list orders: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Items []orderResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(resp.Items))
	}

	rec = ts.do(t, http.MethodGet, "/v1/orders", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without email, got %d", rec.Code)
	}
}

func TestApplyChanges_PartialCancel(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [
			{"item_id": "item-ticket", "attendee_name": "Alice"},
			{"item_id": "item-ticket", "attendee_name": "Bob"}
		]
	}`)

	body := `{"operations":[{"kind":"cancel","position_id":"` + placed.Positions[0].ID + `"}]}`
	rec := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply changes: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var summary changeSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.CanceledPositions) != 1 || summary.CanceledPositions[0] != placed.Positions[0].ID {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	order, err := ts.orders.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(order.ActivePositions()) != 1 {
		t.Fatalf("expected 1 active position, got %d", len(order.ActivePositions()))
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("partial cancel must keep order paid, got %s", order.Status)
	}

	left, err := ts.quotas.Available("item-ticket", "")
	if err != nil {
		t.Fatalf("quota available: %v", err)
	}
	if left != 99 {
		t.Fatalf("expected quota back to 99, got %d", left)
	}
}

func TestApplyChanges_EmptyingRejected(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [{"item_id": "item-ticket"}]
	}`)

	body := `{"operations":[{"kind":"cancel","position_id":"` + placed.Positions[0].ID + `"}]}`
	rec := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", body, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for emptying change, got %d: %s", rec.Code, rec.Body.String())
	}

	order, err := ts.orders.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Version != 1 {
		t.Fatalf("rejected change must not bump version, got %d", order.Version)
	}
}

func TestApplyChanges_UnknownKindAndMissingOrder(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [{"item_id": "item-ticket"}]
	}`)

	rec := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes",
		`{"operations":[{"kind":"teleport"}]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/orders/missing/changes",
		`{"operations":[]}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing order, got %d", rec.Code)
	}
}

func TestApplyChanges_IdempotencyReplay(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [
			{"item_id": "item-ticket", "attendee_name": "Alice"},
			{"item_id": "item-ticket", "attendee_name": "Bob"}
		]
	}`)

	body := `{"operations":[{"kind":"cancel","position_id":"` + placed.Positions[0].ID + `"}]}`
	header := map[string]string{idempotencyHeader: "idem-1"}

	first := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", body, header)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: status=%d body=%s", first.Code, first.Body.String())
	}

	// Повтор с тем же ключом и телом отдаёт сохранённый ответ, а не
	// пытается отменить позицию второй раз.
	second := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", body, header)
	if second.Code != http.StatusOK {
		t.Fatalf("replay request: status=%d body=%s", second.Code, second.Body.String())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body mismatch:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}

	// Тот же ключ с другим телом — конфликт.
	otherBody := `{"operations":[{"kind":"cancel","position_id":"` + placed.Positions[1].ID + `"}]}`
	third := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", otherBody, header)
	if third.Code != http.StatusConflict {
		t.Fatalf("expected 409 on hash mismatch, got %d: %s", third.Code, third.Body.String())
	}

	order, err := ts.orders.Get(placed.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(order.ActivePositions()) != 1 {
		t.Fatalf("expected exactly one cancellation applied, got %d active", len(order.ActivePositions()))
	}
}

func TestApplyChanges_Split(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [
			{"item_id": "item-ticket", "attendee_name": "Alice"},
			{"item_id": "item-ticket", "attendee_name": "Bob"}
		]
	}`)

	body := `{"operations":[{"kind":"split","position_id":"` + placed.Positions[1].ID + `"}]}`
	rec := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("split: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var summary changeSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.SplitOrderID == "" {
		t.Fatal("expected split order id in summary")
	}

	rec = ts.do(t, http.MethodGet, "/v1/orders/"+summary.SplitOrderID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get split order: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var split orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &split); err != nil {
		t.Fatalf("decode split order: %v", err)
	}
	if split.Email != placed.Email || split.Currency != placed.Currency {
		t.Fatalf("split order must inherit email and currency: %+v", split)
	}
	if len(split.Positions) != 1 || split.Positions[0].AttendeeName != "Bob" {
		t.Fatalf("unexpected split positions: %+v", split.Positions)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [{"item_id": "item-ticket"}]
	}`)

	rec := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/cancel", `{"reason":"customer request"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel order: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var got orderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if got.Status != string(domain.OrderStatusCanceled) {
		t.Fatalf("expected canceled status, got %s", got.Status)
	}

	left, err := ts.quotas.Available("item-ticket", "")
	if err != nil {
		t.Fatalf("quota available: %v", err)
	}
	if left != 100 {
		t.Fatalf("expected full quota back after cancel, got %d", left)
	}

	rec = ts.do(t, http.MethodPost, "/v1/orders/missing/cancel", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing order, got %d", rec.Code)
	}
}

func TestGetTimeline(t *testing.T) {
	ts := newTestServer(t)

	placed := ts.placeOrder(t, `{
		"email": "dummy@dummy.test",
		"currency": "EUR",
		"positions": [
			{"item_id": "item-ticket", "attendee_name": "Alice"},
			{"item_id": "item-ticket", "attendee_name": "Bob"}
		]
	}`)

	body := `{"operations":[{"kind":"cancel","position_id":"` + placed.Positions[0].ID + `"}]}`
	if rec := ts.do(t, http.MethodPost, "/v1/orders/"+placed.ID+"/changes", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("apply changes: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodGet, "/v1/orders/"+placed.ID+"/timeline", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get timeline: status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Items []timelineEventResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if len(resp.Items) < 2 {
		t.Fatalf("expected placement and change events, got %d", len(resp.Items))
	}
	if resp.Items[0].Type != "OrderPlaced" {
		t.Fatalf("expected OrderPlaced first, got %s", resp.Items[0].Type)
	}

	rec = ts.do(t, http.MethodGet, "/v1/orders/missing/timeline", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing order, got %d", rec.Code)
	}
}
