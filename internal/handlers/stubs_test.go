package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/services"
)

var handlerNow = time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)

type stubOrderService struct {
	getFn            func(ctx context.Context, orderID string) (services.Order, error)
	updateOrderFn    func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error)
	updatePaymentFn  func(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Order, error)
	updateShipmentFn func(ctx context.Context, cmd services.UpdateShipmentCommand) (services.Order, error)
	removeFn         func(ctx context.Context, cmd services.RemoveOrderCommand) error
	expireFn         func(ctx context.Context, cmd services.ExpireStalePaymentsCommand) (services.ExpireStalePaymentsResult, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, errors.New("unexpected GetOrder")
	}
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateOrderFn == nil {
		return services.Order{}, errors.New("unexpected UpdateOrder")
	}
	return s.updateOrderFn(ctx, cmd)
}

func (s *stubOrderService) UpdatePayment(ctx context.Context, cmd services.UpdatePaymentCommand) (services.Order, error) {
	if s.updatePaymentFn == nil {
		return services.Order{}, errors.New("unexpected UpdatePayment")
	}
	return s.updatePaymentFn(ctx, cmd)
}

func (s *stubOrderService) UpdateShipment(ctx context.Context, cmd services.UpdateShipmentCommand) (services.Order, error) {
	if s.updateShipmentFn == nil {
		return services.Order{}, errors.New("unexpected UpdateShipment")
	}
	return s.updateShipmentFn(ctx, cmd)
}

func (s *stubOrderService) RemoveOrder(ctx context.Context, cmd services.RemoveOrderCommand) error {
	if s.removeFn == nil {
		return errors.New("unexpected RemoveOrder")
	}
	return s.removeFn(ctx, cmd)
}

func (s *stubOrderService) ExpireStalePayments(ctx context.Context, cmd services.ExpireStalePaymentsCommand) (services.ExpireStalePaymentsResult, error) {
	if s.expireFn == nil {
		return services.ExpireStalePaymentsResult{}, errors.New("unexpected ExpireStalePayments")
	}
	return s.expireFn(ctx, cmd)
}

type stubCheckoutService struct {
	createFn func(ctx context.Context, cmd services.CheckoutCommand) ([]services.Order, error)
	calls    int
}

func (s *stubCheckoutService) CreateOrders(ctx context.Context, cmd services.CheckoutCommand) ([]services.Order, error) {
	s.calls++
	if s.createFn == nil {
		return nil, errors.New("unexpected CreateOrders")
	}
	return s.createFn(ctx, cmd)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var (
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.SystemService   = (*stubSystemService)(nil)
)

func sampleOrder(id, userID string) services.Order {
	order := services.Order{
		ID:          id,
		OrderNumber: "K7M2P9QRST",
		CheckoutID:  "01JCHECKOUT",
		UserID:      userID,
		ShopID:      "shop-a",
		AddressID:   "addr-1",
		Items: []services.OrderItem{
			{VariantID: "var-1", Quantity: 2, UnitPrice: 10000},
		},
		Status:    domain.OrderStatusPending,
		Payment:   services.Payment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusUnpaid},
		Shipment:  services.Shipment{ShippingCost: 20000, Status: domain.ShipmentStatusPending},
		Version:   3,
		CreatedAt: handlerNow,
		UpdatedAt: handlerNow,
	}
	order.Recalculate()
	return order
}

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var body map[string]any
	decodeJSON(t, rr, &body)
	if body["error"] != code {
		t.Fatalf("expected error code %q, got %v", code, body["error"])
	}
}
