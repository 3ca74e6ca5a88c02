package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/idempotency"
	"github.com/hanko-field/fulfillment/internal/services"
)

const checkoutBody = `{
	"address": "addr-1",
	"items": [
		{"variant": "var-a1", "quantity": 2, "price": 10000},
		{"variant": "var-b1", "quantity": 1, "price": 5000}
	],
	"payment": {"method": "cod"},
	"shipment": {"shippingCost": 20000},
	"customization": {"giftMessage": "Happy birthday", "isAnonymous": true}
}`

func newOrderRouter(h *OrderHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func TestOrderHandlersCreateOrders(t *testing.T) {
	var captured services.CheckoutCommand
	checkout := &stubCheckoutService{
		createFn: func(_ context.Context, cmd services.CheckoutCommand) ([]services.Order, error) {
			captured = cmd
			return []services.Order{sampleOrder("ord_1", cmd.UserID), sampleOrder("ord_2", cmd.UserID)}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(jsonRequest(http.MethodPost, "/orders", checkoutBody), "user-1"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.AddressID != "addr-1" {
		t.Fatalf("unexpected command owner fields: %+v", captured)
	}
	if len(captured.Items) != 2 || captured.Items[0].VariantID != "var-a1" || captured.Items[0].UnitPrice != 10000 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}
	if captured.Payment.Method != "cod" || captured.Shipment.ShippingCost != 20000 {
		t.Fatalf("unexpected payment/shipment: %+v %+v", captured.Payment, captured.Shipment)
	}
	if captured.Customization == nil || !captured.Customization.IsAnonymous {
		t.Fatalf("expected customization to be forwarded, got %+v", captured.Customization)
	}

	var body struct {
		Orders []struct {
			ID         string `json:"id"`
			TotalPrice int64  `json:"totalPrice"`
			Payment    struct {
				Status string `json:"status"`
			} `json:"payment"`
		} `json:"orders"`
	}
	decodeJSON(t, rr, &body)
	if len(body.Orders) != 2 || body.Orders[0].ID != "ord_1" {
		t.Fatalf("unexpected orders: %+v", body.Orders)
	}
	if body.Orders[0].TotalPrice != 40000 || body.Orders[0].Payment.Status != "unpaid" {
		t.Fatalf("unexpected order payload: %+v", body.Orders[0])
	}
}

func TestOrderHandlersCreateOrdersRejectsBadBodies(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"address":"addr-1","items":[],"payment":{"method":"cod"},"shipment":{},"discount":5}`,
		"malformed":     `{"address":`,
		"empty":         ``,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			checkout := &stubCheckoutService{}
			router := newOrderRouter(NewOrderHandlers(nil, checkout, nil))

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, withIdentity(jsonRequest(http.MethodPost, "/orders", body), "user-1"))

			assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
			if checkout.calls != 0 {
				t.Fatalf("checkout should not run")
			}
		})
	}
}

func TestOrderHandlersCreateOrdersRequiresIdentity(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubCheckoutService{}, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, jsonRequest(http.MethodPost, "/orders", checkoutBody))

	assertErrorCode(t, rr, http.StatusUnauthorized, "unauthenticated")
}

func TestOrderHandlersCreateOrdersReportsCommittedOrders(t *testing.T) {
	checkout := &stubCheckoutService{
		createFn: func(_ context.Context, cmd services.CheckoutCommand) ([]services.Order, error) {
			return []services.Order{sampleOrder("ord_1", cmd.UserID)}, fmt.Errorf("%w: deadline", services.ErrOrderUnavailable)
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, checkout, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(jsonRequest(http.MethodPost, "/orders", checkoutBody), "user-1"))

	assertErrorCode(t, rr, http.StatusServiceUnavailable, "order_unavailable")
	var body struct {
		Committed []string `json:"committedOrderIds"`
	}
	decodeJSON(t, rr, &body)
	if len(body.Committed) != 1 || body.Committed[0] != "ord_1" {
		t.Fatalf("expected committed order ids, got %v", body.Committed)
	}
}

func TestOrderHandlersCreateOrdersReplaysIdempotentRequest(t *testing.T) {
	checkout := &stubCheckoutService{
		createFn: func(_ context.Context, cmd services.CheckoutCommand) ([]services.Order, error) {
			return []services.Order{sampleOrder("ord_1", cmd.UserID)}, nil
		},
	}
	handlers := NewOrderHandlers(nil, checkout, nil,
		WithOrderIdempotency(idempotency.Require(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return handlerNow }))),
	)
	router := newOrderRouter(handlers)

	send := func() *httptest.ResponseRecorder {
		req := withIdentity(jsonRequest(http.MethodPost, "/orders", checkoutBody), "user-1")
		req.Header.Set(idempotency.HeaderName, "checkout-42")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected both responses 201, got %d and %d", first.Code, second.Code)
	}
	if checkout.calls != 1 {
		t.Fatalf("expected one checkout, got %d", checkout.calls)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs")
	}
}

func TestOrderHandlersCreateOrdersRateLimited(t *testing.T) {
	checkout := &stubCheckoutService{
		createFn: func(_ context.Context, cmd services.CheckoutCommand) ([]services.Order, error) {
			return []services.Order{sampleOrder("ord_1", cmd.UserID)}, nil
		},
	}
	handlers := NewOrderHandlers(nil, checkout, nil,
		WithCheckoutRateLimit(1, time.Minute, func() time.Time { return handlerNow }),
	)
	router := newOrderRouter(handlers)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, withIdentity(jsonRequest(http.MethodPost, "/orders", checkoutBody), "user-1"))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, withIdentity(jsonRequest(http.MethodPost, "/orders", checkoutBody), "user-1"))
	other := httptest.NewRecorder()
	router.ServeHTTP(other, withIdentity(jsonRequest(http.MethodPost, "/orders", checkoutBody), "user-2"))

	if first.Code != http.StatusCreated {
		t.Fatalf("expected first checkout 201, got %d", first.Code)
	}
	assertErrorCode(t, second, http.StatusTooManyRequests, "rate_limited")
	if second.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", second.Header().Get("Retry-After"))
	}
	if other.Code != http.StatusCreated {
		t.Fatalf("expected other customer unaffected, got %d", other.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_1" {
				return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, orderID)
			}
			return sampleOrder("ord_1", "owner"), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, nil, orders))

	cases := []struct {
		name   string
		path   string
		uid    string
		roles  []string
		status int
	}{
		{name: "owner", path: "/orders/ord_1", uid: "owner", status: http.StatusOK},
		{name: "staff", path: "/orders/ord_1", uid: "operator", roles: []string{auth.RoleStaff}, status: http.StatusOK},
		{name: "other customer", path: "/orders/ord_1", uid: "intruder", status: http.StatusNotFound},
		{name: "missing", path: "/orders/ord_404", uid: "owner", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, tc.path, nil), tc.uid, tc.roles...))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status == http.StatusOK && rr.Header().Get("ETag") != `"3"` {
				t.Fatalf("expected ETag with version, got %q", rr.Header().Get("ETag"))
			}
		})
	}
}

func TestOrderErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{fmt.Errorf("%w: address", services.ErrOrderReferenceNotFound), http.StatusNotFound, "reference_not_found"},
		{services.ErrOrderInvalidState, http.StatusConflict, "order_invalid_state"},
		{services.ErrOrderConflict, http.StatusConflict, "order_conflict"},
		{services.ErrOrderNumberExhausted, http.StatusInternalServerError, "order_number_unavailable"},
		{services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		got := orderError(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.code, got.Status, got.Code)
		}
	}
}

func TestBuildOrderPayloadFormatsTimestamps(t *testing.T) {
	order := sampleOrder("ord_1", "owner")
	paidAt := handlerNow.Add(time.Hour)
	order.Payment.Status = domain.PaymentStatusPaid
	order.Payment.PaymentDate = &paidAt

	payload := buildOrderPayload(order)

	if payload.Payment.PaymentDate != "2025-04-01T10:00:00Z" {
		t.Fatalf("unexpected payment date %q", payload.Payment.PaymentDate)
	}
	if payload.Items[0].Total != 20000 || payload.TotalQuantity != 2 {
		t.Fatalf("unexpected totals %+v", payload)
	}
	if payload.Customization != nil {
		t.Fatalf("expected no customization block")
	}
}
