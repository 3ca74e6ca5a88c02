package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

const maxInternalBodySize = 4 * 1024

// InternalHandlers exposes maintenance endpoints invoked by Cloud Scheduler. Authentication is
// applied by the router's internal middleware group.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:expire-stale", h.expireStalePayments)
}

type expireStaleRequest struct {
	OlderThan string `json:"olderThan"`
	Limit     int    `json:"limit"`
	DryRun    bool   `json:"dryRun"`
}

type expireStaleResponse struct {
	DryRun bool `json:"dryRun"`
	services.ExpireStalePaymentsResult
}

func (h *InternalHandlers) expireStalePayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req expireStaleRequest
	body, err := readLimitedBody(r, maxInternalBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if err := decodeStrict(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body: "+err.Error(), http.StatusBadRequest))
			return
		}
	}

	cmd := services.ExpireStalePaymentsCommand{
		Limit:  req.Limit,
		DryRun: req.DryRun,
	}
	if raw := strings.TrimSpace(req.OlderThan); raw != "" {
		olderThan, err := time.ParseDuration(raw)
		if err != nil || olderThan <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a positive duration such as 72h", http.StatusBadRequest))
			return
		}
		cmd.OlderThan = olderThan
	}
	if req.Limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must not be negative", http.StatusBadRequest))
		return
	}
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		cmd.Actor = services.Actor{ID: firstNonEmpty(identity.Email, identity.Subject), Type: services.ActorTypeService}
	}

	result, err := h.orders.ExpireStalePayments(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, expireStaleResponse{DryRun: req.DryRun, ExpireStalePaymentsResult: result})
}
