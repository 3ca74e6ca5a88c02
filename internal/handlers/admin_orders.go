package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

const maxAdminOrderBodySize = 16 * 1024

// AdminOrderHandlers exposes the operator endpoints that edit orders and drive the payment and
// shipment ledgers.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers admin order endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders/{orderID}", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		rt.Patch("/", h.updateOrder)
		rt.Patch("/payment", h.updatePayment)
		rt.Patch("/shipment", h.updateShipment)
		rt.Delete("/", h.removeOrder)
	})
}

type adminPaymentRequest struct {
	Status      *string `json:"status"`
	Description *string `json:"description"`
	PaymentDate *string `json:"paymentDate"`
	GatewayRef  *string `json:"gatewayRef"`
}

type adminShipmentRequest struct {
	Status         *string `json:"status"`
	Carrier        *string `json:"carrier"`
	TrackingNumber *string `json:"trackingNumber"`
	ReturnReason   *string `json:"returnReason"`
}

type adminRemoveRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminOrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, version, ok := h.prepare(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cmd, err := parseUpdateOrderRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.OrderID = orderID
	cmd.ExpectedVersion = version
	cmd.Actor = operatorActor(identity)

	order, err := h.orders.UpdateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	setVersionHeader(w, order.Version)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, version, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req adminPaymentRequest
	if !decodeBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}
	cmd := services.UpdatePaymentCommand{
		OrderID:         orderID,
		ExpectedVersion: version,
		Status:          req.Status,
		Description:     req.Description,
		GatewayRef:      req.GatewayRef,
		Actor:           operatorActor(identity),
	}
	if req.PaymentDate != nil {
		ts, err := parseTimeParam(strings.TrimSpace(*req.PaymentDate))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentDate must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.PaymentDate = &ts
	}

	order, err := h.orders.UpdatePayment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	setVersionHeader(w, order.Version)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, version, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req adminShipmentRequest
	if !decodeBody(ctx, w, r, maxAdminOrderBodySize, &req) {
		return
	}
	order, err := h.orders.UpdateShipment(ctx, services.UpdateShipmentCommand{
		OrderID:         orderID,
		ExpectedVersion: version,
		Status:          req.Status,
		Carrier:         req.Carrier,
		TrackingNumber:  req.TrackingNumber,
		ReturnReason:    req.ReturnReason,
		Actor:           operatorActor(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	setVersionHeader(w, order.Version)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) removeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, orderID, _, ok := h.prepare(w, r)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "only admins may remove orders", http.StatusForbidden))
		return
	}

	var req adminRemoveRequest
	body, err := readLimitedBody(r, maxAdminOrderBodySize)
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

	if err := h.orders.RemoveOrder(ctx, services.RemoveOrderCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		Actor:   operatorActor(identity),
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// prepare runs the checks shared by every admin order endpoint and writes the error response
// when one fails.
func (h *AdminOrderHandlers) prepare(w http.ResponseWriter, r *http.Request) (*auth.Identity, string, int64, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, "", 0, false
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return nil, "", 0, false
	}
	if !identity.IsOperator() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
		return nil, "", 0, false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return nil, "", 0, false
	}
	version, err := parseIfMatch(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return nil, "", 0, false
	}
	return identity, orderID, version, true
}

// parseUpdateOrderRequest decodes an order edit. Every top-level key is reported in Fields so
// the service can reject keys that are not editable.
func parseUpdateOrderRequest(data []byte) (services.UpdateOrderCommand, error) {
	var cmd services.UpdateOrderCommand
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cmd, errors.New("invalid JSON body")
	}
	if raw == nil {
		return cmd, errors.New("request body must be a JSON object")
	}

	cmd.Fields = make([]string, 0, len(raw))
	for key := range raw {
		cmd.Fields = append(cmd.Fields, key)
	}
	sort.Strings(cmd.Fields)

	if value, ok := raw["status"]; ok {
		var status string
		if err := json.Unmarshal(value, &status); err != nil {
			return cmd, errors.New("status must be a string")
		}
		cmd.Status = &status
	}
	if value, ok := raw["description"]; ok {
		var description string
		if err := json.Unmarshal(value, &description); err != nil {
			return cmd, errors.New("description must be a string")
		}
		cmd.Description = &description
	}
	if value, ok := raw["expectedDeliveryAt"]; ok {
		if isJSONNull(value) {
			cmd.ClearExpectedAt = true
		} else {
			ts, err := parseJSONTime(value)
			if err != nil {
				return cmd, fmt.Errorf("expectedDeliveryAt %v", err)
			}
			cmd.ExpectedDeliveryAt = &ts
		}
	}
	return cmd, nil
}

func isJSONNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func parseJSONTime(value json.RawMessage) (time.Time, error) {
	var raw string
	if err := json.Unmarshal(value, &raw); err != nil {
		return time.Time{}, errors.New("must be a string")
	}
	return parseTimeParam(strings.TrimSpace(raw))
}

func operatorActor(identity *auth.Identity) services.Actor {
	return services.Actor{ID: strings.TrimSpace(identity.UID), Type: services.ActorTypeStaff}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
	}
}
