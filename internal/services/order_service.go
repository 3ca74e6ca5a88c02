package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventPaymentChanged  = "order.payment.changed"
	orderEventShipmentChanged = "order.shipment.changed"
	orderEventRemoved         = "order.removed"

	orderIDPrefix = "ord_"

	defaultPaymentExpiry   = 72 * time.Hour
	defaultExpiryBatchSize = 100
	maxExpiryBatchSize     = 500
)

var orderStatuses = map[string]OrderStatus{
	string(domain.OrderStatusPending):        domain.OrderStatusPending,
	string(domain.OrderStatusReadyForPickup): domain.OrderStatusReadyForPickup,
	string(domain.OrderStatusOutForDelivery): domain.OrderStatusOutForDelivery,
	string(domain.OrderStatusDelivered):      domain.OrderStatusDelivered,
	string(domain.OrderStatusReturned):       domain.OrderStatusReturned,
	string(domain.OrderStatusCancelled):      domain.OrderStatusCancelled,
}

// orderStateTransitions governs administrative status edits only. Ledger-forced transitions
// bypass it.
var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusReadyForPickup, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusReadyForPickup: {domain.OrderStatusPending, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusReadyForPickup, domain.OrderStatusDelivered, domain.OrderStatusReturned, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:      {domain.OrderStatusReturned},
}

var editableOrderFields = map[string]struct{}{
	"status":             {},
	"description":        {},
	"expectedDeliveryAt": {},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Audit           AuditLogService
	Events          OrderEventPublisher
	Clock           func() time.Time
	PaymentExpiry   time.Duration
	ExpiryBatchSize int
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	audit         AuditLogService
	events        OrderEventPublisher
	clock         func() time.Time
	paymentExpiry time.Duration
	expiryBatch   int
	logger        func(context.Context, string, map[string]any)
	payments      PaymentLedger
	shipments     ShipmentLedger
}

// NewOrderService wires dependencies into the lifecycle coordinator.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	expiry := deps.PaymentExpiry
	if expiry <= 0 {
		expiry = defaultPaymentExpiry
	}
	batch := deps.ExpiryBatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &orderService{
		orders:        deps.Orders,
		audit:         deps.Audit,
		events:        deps.Events,
		clock:         func() time.Time { return clock().UTC() },
		paymentExpiry: expiry,
		expiryBatch:   batch,
		logger:        logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	for _, field := range cmd.Fields {
		if _, ok := editableOrderFields[field]; !ok {
			return Order{}, invalidInput("field %q is not editable", field)
		}
	}
	if cmd.Status == nil && cmd.Description == nil && cmd.ExpectedDeliveryAt == nil && !cmd.ClearExpectedAt {
		return Order{}, invalidInput("at least one of status, description, expectedDeliveryAt is required")
	}

	var target *OrderStatus
	if cmd.Status != nil {
		status, err := parseOrderStatus(*cmd.Status)
		if err != nil {
			return Order{}, err
		}
		target = &status
	}
	description, err := cleanOptionalText(cmd.Description, "description", maxDescriptionRunes)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	var before Order
	updated, err := s.orders.Mutate(ctx, orderID, cmd.ExpectedVersion, func(current Order) (Order, error) {
		before = current
		next := cloneOrder(current)
		if target != nil && *target != current.Status {
			if !orderCanTransition(current.Status, *target) {
				return Order{}, invalidState("order cannot move from %s to %s", current.Status, *target)
			}
			next.Status = *target
			stampStatusTimestamps(&next, *target, now)
		}
		if target != nil && *target == domain.OrderStatusDelivered && next.Shipment.DeliveredAt == nil {
			deliveredAt := now
			next.Shipment.DeliveredAt = &deliveredAt
		}
		if description != nil {
			next.Description = *description
		}
		switch {
		case cmd.ClearExpectedAt:
			next.ExpectedDeliveryAt = nil
		case cmd.ExpectedDeliveryAt != nil:
			expected := cmd.ExpectedDeliveryAt.UTC()
			next.ExpectedDeliveryAt = &expected
		}
		next.Recalculate()
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	s.afterMutation(ctx, cmd.Actor, "order.update", before, updated, now)
	return updated, nil
}

func (s *orderService) UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	change, err := s.paymentChange(cmd)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	var before Order
	updated, err := s.orders.Mutate(ctx, orderID, cmd.ExpectedVersion, func(current Order) (Order, error) {
		before = current
		transition, err := s.payments.Apply(current.Payment, change, now)
		if err != nil {
			return Order{}, err
		}
		next := cloneOrder(current)
		next.Payment = transition.Payment
		applySideEffects(&next, ledgerPayment, string(transition.From), string(transition.To), now)
		next.Recalculate()
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	s.afterMutation(ctx, cmd.Actor, "order.payment.update", before, updated, now)
	return updated, nil
}

func (s *orderService) UpdateShipment(ctx context.Context, cmd UpdateShipmentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, invalidInput("order id is required")
	}
	change, err := s.shipmentChange(cmd)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	var before Order
	updated, err := s.orders.Mutate(ctx, orderID, cmd.ExpectedVersion, func(current Order) (Order, error) {
		before = current
		transition, err := s.shipments.Apply(current.Shipment, change, now)
		if err != nil {
			return Order{}, err
		}
		next := cloneOrder(current)
		next.Shipment = transition.Shipment
		applySideEffects(&next, ledgerShipment, string(transition.From), string(transition.To), now)
		next.Recalculate()
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	s.afterMutation(ctx, cmd.Actor, "order.shipment.update", before, updated, now)
	return updated, nil
}

func (s *orderService) RemoveOrder(ctx context.Context, cmd RemoveOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return invalidInput("order id is required")
	}
	reason, err := cleanText(cmd.Reason, "reason")
	if err != nil {
		return err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return mapRepositoryError(err, ErrOrderNotFound)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return mapRepositoryError(err, ErrOrderNotFound)
	}

	now := s.clock()
	metadata := map[string]any{"orderNumber": order.OrderNumber, "shopId": order.ShopID}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.recordAudit(ctx, cmd.Actor, AuditLogRecord{
		Action:     "order.remove",
		TargetRef:  orderTargetRef(orderID),
		Severity:   "warn",
		OccurredAt: now,
		Metadata:   metadata,
		Diff:       map[string]AuditLogDiff{"status": {Before: string(order.Status), After: nil}},
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventRemoved,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		ShopID:         order.ShopID,
		PreviousStatus: string(order.Status),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return nil
}

func (s *orderService) ExpireStalePayments(ctx context.Context, cmd ExpireStalePaymentsCommand) (ExpireStalePaymentsResult, error) {
	olderThan := cmd.OlderThan
	if olderThan <= 0 {
		olderThan = s.paymentExpiry
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = s.expiryBatch
	}
	if limit > maxExpiryBatchSize {
		limit = maxExpiryBatchSize
	}
	actor := cmd.Actor
	if actor.ID == "" {
		actor = Actor{ID: "payment-expiry", Type: ActorTypeSystem}
	}

	cutoff := s.clock().Add(-olderThan)
	candidates, err := s.orders.ListAwaitingPayment(ctx, cutoff, limit)
	if err != nil {
		return ExpireStalePaymentsResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	result := ExpireStalePaymentsResult{Examined: len(candidates), Expired: []string{}, Skipped: []string{}, Failed: []string{}}
	expired := string(domain.PaymentStatusExpired)
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if cmd.DryRun {
			result.Expired = append(result.Expired, candidate.ID)
			continue
		}
		_, err := s.UpdatePayment(ctx, UpdatePaymentCommand{
			OrderID:         candidate.ID,
			ExpectedVersion: candidate.Version,
			Status:          &expired,
			Actor:           actor,
		})
		switch {
		case err == nil:
			result.Expired = append(result.Expired, candidate.ID)
		case errors.Is(err, ErrOrderConflict), errors.Is(err, ErrOrderInvalidState), errors.Is(err, ErrOrderNotFound):
			result.Skipped = append(result.Skipped, candidate.ID)
		default:
			result.Failed = append(result.Failed, candidate.ID)
			s.logger(ctx, "payment.expire.failed", map[string]any{
				"orderId": candidate.ID,
				"error":   err,
			})
		}
	}
	return result, nil
}

func (s *orderService) paymentChange(cmd UpdatePaymentCommand) (PaymentChange, error) {
	var change PaymentChange
	if cmd.Status == nil && cmd.Description == nil && cmd.PaymentDate == nil && cmd.GatewayRef == nil {
		return change, invalidInput("at least one payment field is required")
	}
	if cmd.Status != nil {
		status, err := s.payments.ParseStatus(*cmd.Status)
		if err != nil {
			return change, err
		}
		change.Status = &status
	}
	var err error
	if change.Description, err = cleanOptionalText(cmd.Description, "description", maxDescriptionRunes); err != nil {
		return change, err
	}
	if change.GatewayRef, err = cleanOptionalText(cmd.GatewayRef, "gatewayRef", maxReferenceRunes); err != nil {
		return change, err
	}
	if cmd.PaymentDate != nil {
		if cmd.PaymentDate.IsZero() {
			return change, invalidInput("paymentDate must be a valid timestamp")
		}
		change.PaymentDate = cmd.PaymentDate
	}
	return change, nil
}

func (s *orderService) shipmentChange(cmd UpdateShipmentCommand) (ShipmentChange, error) {
	var change ShipmentChange
	if cmd.Status == nil && cmd.Carrier == nil && cmd.TrackingNumber == nil && cmd.ReturnReason == nil {
		return change, invalidInput("at least one shipment field is required")
	}
	if cmd.Status != nil {
		status, err := s.shipments.ParseStatus(*cmd.Status)
		if err != nil {
			return change, err
		}
		change.Status = &status
	}
	var err error
	if change.Carrier, err = cleanOptionalText(cmd.Carrier, "carrier", maxCarrierNameRunes); err != nil {
		return change, err
	}
	if change.TrackingNumber, err = cleanOptionalText(cmd.TrackingNumber, "trackingNumber", maxTrackingCodeRunes); err != nil {
		return change, err
	}
	if change.ReturnReason, err = cleanOptionalText(cmd.ReturnReason, "returnReason", maxReasonRunes); err != nil {
		return change, err
	}
	return change, nil
}

// afterMutation emits events and the audit entry for a committed update.
func (s *orderService) afterMutation(ctx context.Context, actor Actor, action string, before, after Order, now time.Time) {
	diff := orderDiff(before, after)
	if len(diff) == 0 {
		return
	}
	s.recordAudit(ctx, actor, AuditLogRecord{
		Action:     action,
		TargetRef:  orderTargetRef(after.ID),
		OccurredAt: now,
		Metadata:   map[string]any{"orderNumber": after.OrderNumber, "version": after.Version},
		Diff:       diff,
	})

	base := OrderEvent{
		OrderID:     after.ID,
		OrderNumber: after.OrderNumber,
		CheckoutID:  after.CheckoutID,
		ShopID:      after.ShopID,
		ActorID:     actor.ID,
		OccurredAt:  now,
	}
	if before.Payment.Status != after.Payment.Status {
		event := base
		event.Type = orderEventPaymentChanged
		event.PreviousStatus = string(before.Payment.Status)
		event.CurrentStatus = string(after.Payment.Status)
		s.publishEvent(ctx, event)
	}
	if before.Shipment.Status != after.Shipment.Status {
		event := base
		event.Type = orderEventShipmentChanged
		event.PreviousStatus = string(before.Shipment.Status)
		event.CurrentStatus = string(after.Shipment.Status)
		s.publishEvent(ctx, event)
	}
	if before.Status != after.Status {
		event := base
		event.Type = orderEventStatusChanged
		event.PreviousStatus = string(before.Status)
		event.CurrentStatus = string(after.Status)
		s.publishEvent(ctx, event)
	}
}

func (s *orderService) recordAudit(ctx context.Context, actor Actor, record AuditLogRecord) {
	if s.audit == nil {
		return
	}
	record.Actor = actor.ID
	record.ActorType = actor.Type
	record.RequestID = middleware.GetReqID(ctx)
	s.audit.Record(ctx, record)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err,
			"status": event.CurrentStatus,
		})
	}
}

func orderDiff(before, after Order) map[string]AuditLogDiff {
	diff := make(map[string]AuditLogDiff)
	track := func(field string, b, a any) {
		if b != a {
			diff[field] = AuditLogDiff{Before: b, After: a}
		}
	}
	track("status", string(before.Status), string(after.Status))
	track("description", before.Description, after.Description)
	track("expectedDeliveryAt", formatOptionalTime(before.ExpectedDeliveryAt), formatOptionalTime(after.ExpectedDeliveryAt))
	track("payment.status", string(before.Payment.Status), string(after.Payment.Status))
	track("payment.description", before.Payment.Description, after.Payment.Description)
	track("payment.paymentDate", formatOptionalTime(before.Payment.PaymentDate), formatOptionalTime(after.Payment.PaymentDate))
	track("payment.gatewayRef", before.Payment.GatewayRef, after.Payment.GatewayRef)
	track("shipment.status", string(before.Shipment.Status), string(after.Shipment.Status))
	track("shipment.carrier", before.Shipment.Carrier, after.Shipment.Carrier)
	track("shipment.trackingNumber", before.Shipment.TrackingNumber, after.Shipment.TrackingNumber)
	track("shipment.deliveredAt", formatOptionalTime(before.Shipment.DeliveredAt), formatOptionalTime(after.Shipment.DeliveredAt))
	track("shipment.returnReason", before.Shipment.ReturnReason, after.Shipment.ReturnReason)
	return diff
}

func parseOrderStatus(raw string) (OrderStatus, error) {
	status, ok := orderStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", invalidInput("status %q is not a valid order status", raw)
	}
	return status, nil
}

func orderCanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func orderTargetRef(orderID string) string {
	return fmt.Sprintf("/orders/%s", orderID)
}

func cloneOrder(order Order) Order {
	clone := order
	clone.Items = append([]OrderItem(nil), order.Items...)
	if order.Customization != nil {
		custom := *order.Customization
		clone.Customization = &custom
	}
	return clone
}

func formatOptionalTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
