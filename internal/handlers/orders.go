package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

// OrderHandlers exposes checkout and order lookup endpoints for authenticated users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	limiter     *checkoutLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the given idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithCheckoutRateLimit caps checkouts per customer to limit within each window.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newCheckoutLimiter(limit, window, clock)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		checkout: checkout,
		orders:   orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	create := http.Handler(http.HandlerFunc(h.createOrders))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", h.throttle(create))
	r.Get("/{orderID}", h.getOrder)
}

// throttle rejects checkouts over the per-customer limit. It runs ahead of the idempotency
// middleware so a rejection is never stored against the caller's key.
func (h *OrderHandlers) throttle(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		uid := ""
		if identity, ok := auth.IdentityFromContext(ctx); ok {
			uid = identity.UID
		}
		if allowed, retryAfter := h.limiter.Allow(uid); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; retry later", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type checkoutRequest struct {
	Address       string                      `json:"address"`
	Items         []checkoutItemRequest       `json:"items"`
	Payment       checkoutPaymentRequest      `json:"payment"`
	Shipment      checkoutShipmentRequest     `json:"shipment"`
	Customization *checkoutCustomizationInput `json:"customization"`
}

type checkoutItemRequest struct {
	Variant  string `json:"variant"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type checkoutPaymentRequest struct {
	Method string `json:"method"`
}

type checkoutShipmentRequest struct {
	ShippingCost int64  `json:"shippingCost"`
	Status       string `json:"status"`
}

type checkoutCustomizationInput struct {
	GiftMessage           string `json:"giftMessage"`
	IsAnonymous           bool   `json:"isAnonymous"`
	DeliveryTimeRequested string `json:"deliveryTimeRequested"`
	Notes                 string `json:"notes"`
}

type createOrdersResponse struct {
	Orders []orderPayload `json:"orders"`
}

func (h *OrderHandlers) createOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeBody(ctx, w, r, maxCheckoutBodySize, &req) {
		return
	}

	cmd := services.CheckoutCommand{
		UserID:    strings.TrimSpace(identity.UID),
		AddressID: strings.TrimSpace(req.Address),
		Items:     make([]services.CheckoutItem, 0, len(req.Items)),
		Payment:   services.CheckoutPayment{Method: req.Payment.Method},
		Shipment: services.CheckoutShipment{
			ShippingCost: req.Shipment.ShippingCost,
			Status:       req.Shipment.Status,
		},
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CheckoutItem{
			VariantID: strings.TrimSpace(item.Variant),
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	if req.Customization != nil {
		cmd.Customization = &services.CheckoutCustomization{
			GiftMessage:           req.Customization.GiftMessage,
			IsAnonymous:           req.Customization.IsAnonymous,
			DeliveryTimeRequested: req.Customization.DeliveryTimeRequested,
			Notes:                 req.Customization.Notes,
		}
	}

	orders, err := h.checkout.CreateOrders(ctx, cmd)
	if err != nil {
		apiErr := orderError(err)
		if len(orders) > 0 {
			committed := make([]string, 0, len(orders))
			for _, order := range orders {
				committed = append(committed, order.ID)
			}
			apiErr = apiErr.WithDetails(map[string]any{"committedOrderIds": committed})
		}
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	resp := createOrdersResponse{Orders: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	// Orders belonging to other customers are reported as missing.
	if !identity.IsOperator() && !strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	setVersionHeader(w, order.Version)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// decodeBody reads a size-limited JSON body into dst, rejecting unknown fields. It writes the
// error response and returns false on failure.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := decodeStrict(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body: "+err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, orderError(err))
}

func orderError(err error) httpx.Error {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderReferenceNotFound):
		return httpx.NewError("reference_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrOrderConflict):
		return httpx.NewError("order_conflict", "order was modified concurrently; reload and retry", http.StatusConflict)
	case errors.Is(err, services.ErrOrderInvalidState):
		return httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderNumberExhausted):
		return httpx.NewError("order_number_unavailable", "unable to allocate an order number", http.StatusInternalServerError)
	case errors.Is(err, services.ErrOrderUnavailable):
		return httpx.NewError("order_unavailable", "order storage temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout)
	default:
		return httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError)
	}
}
