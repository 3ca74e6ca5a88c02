package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

const maxWebhookBodySize = 32 * 1024

// WebhookHandlers accepts signed carrier and payment provider callbacks and feeds them into
// the shipment and payment ledgers.
type WebhookHandlers struct {
	orders   services.OrderService
	verifier *auth.HMACValidator
	known    func(secretName string) bool
}

// WebhookHandlersOption customises WebhookHandlers.
type WebhookHandlersOption func(*WebhookHandlers)

// WithWebhookSecretFilter restricts callbacks to senders with a configured secret. Unknown
// carriers and providers are rejected before any signature work.
func WithWebhookSecretFilter(known func(secretName string) bool) WebhookHandlersOption {
	return func(h *WebhookHandlers) {
		h.known = known
	}
}

// NewWebhookHandlers constructs webhook handlers verified by validator.
func NewWebhookHandlers(orders services.OrderService, validator *auth.HMACValidator, opts ...WebhookHandlersOption) *WebhookHandlers {
	h := &WebhookHandlers{orders: orders, verifier: validator}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(h.requireSignature("carriers", "carrier")).Post("/carriers/{carrier}", h.carrierCallback)
	r.With(h.requireSignature("payments", "provider")).Post("/payments/{provider}", h.paymentCallback)
}

// webhookSecretName is the HMAC secret key for a sender, e.g. "carriers.yamato".
func webhookSecretName(kind, sender string) string {
	return kind + "." + strings.ToLower(strings.TrimSpace(sender))
}

func (h *WebhookHandlers) requireSignature(kind, param string) func(http.Handler) http.Handler {
	if h.verifier == nil {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				httpx.WriteError(r.Context(), w, httpx.NewError("verification_unavailable", "webhook verification unavailable", http.StatusServiceUnavailable))
			})
		}
	}
	return h.verifier.RequireHMACResolver(func(r *http.Request) (string, bool) {
		sender := strings.TrimSpace(chi.URLParam(r, param))
		if sender == "" {
			return "", false
		}
		name := webhookSecretName(kind, sender)
		if h.known != nil && !h.known(name) {
			return "", false
		}
		return name, true
	})
}

type carrierCallbackRequest struct {
	OrderID        string  `json:"orderId"`
	Status         string  `json:"status"`
	TrackingNumber *string `json:"trackingNumber"`
	ReturnReason   *string `json:"returnReason"`
}

type paymentCallbackRequest struct {
	OrderID    string  `json:"orderId"`
	Status     string  `json:"status"`
	GatewayRef *string `json:"gatewayRef"`
	PaidAt     *string `json:"paidAt"`
}

func (h *WebhookHandlers) carrierCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	carrier := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "carrier")))

	var req carrierCallbackRequest
	if !decodeBody(ctx, w, r, maxWebhookBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId and status are required", http.StatusBadRequest))
		return
	}

	status := req.Status
	order, err := h.orders.UpdateShipment(ctx, services.UpdateShipmentCommand{
		OrderID:        req.OrderID,
		Status:         &status,
		Carrier:        &carrier,
		TrackingNumber: req.TrackingNumber,
		ReturnReason:   req.ReturnReason,
		Actor:          services.Actor{ID: "carrier:" + carrier, Type: services.ActorTypeService},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))

	var req paymentCallbackRequest
	if !decodeBody(ctx, w, r, maxWebhookBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}
	// Providers only confirm or refund; expiry is decided by the sweep.
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status != string(domain.PaymentStatusPaid) && status != string(domain.PaymentStatusRefunded) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be paid or refunded", http.StatusBadRequest))
		return
	}

	cmd := services.UpdatePaymentCommand{
		OrderID:    req.OrderID,
		Status:     &status,
		GatewayRef: req.GatewayRef,
		Actor:      services.Actor{ID: "payments:" + provider, Type: services.ActorTypeService},
	}
	if req.PaidAt != nil {
		ts, err := parseTimeParam(strings.TrimSpace(*req.PaidAt))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paidAt must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PaymentDate = &ts
	}

	order, err := h.orders.UpdatePayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
