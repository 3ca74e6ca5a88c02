package services

import (
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

type ledgerKind string

const (
	ledgerPayment  ledgerKind = "payment"
	ledgerShipment ledgerKind = "shipment"
)

type sideEffectKey struct {
	ledger ledgerKind
	status string
}

// sideEffect rewrites an order after a ledger transition. Effects run on already-validated
// state and never fail.
type sideEffect func(order *Order, now time.Time)

// sideEffects declares every cross-ledger coupling. An entry fires only when the keyed ledger
// actually moved into the keyed status.
var sideEffects = map[sideEffectKey]sideEffect{
	{ledgerShipment, string(domain.ShipmentStatusDelivered)}: func(order *Order, now time.Time) {
		deliveredAt := now
		if order.Shipment.DeliveredAt != nil {
			deliveredAt = *order.Shipment.DeliveredAt
		}
		forceOrderStatus(order, domain.OrderStatusDelivered, deliveredAt)
		if order.Payment.Method == domain.PaymentMethodCOD {
			order.Payment = PaymentLedger{}.forcePaid(order.Payment, deliveredAt)
		}
	},
	{ledgerShipment, string(domain.ShipmentStatusFailed)}: func(order *Order, now time.Time) {
		forceOrderStatus(order, domain.OrderStatusCancelled, now)
	},
	{ledgerPayment, string(domain.PaymentStatusExpired)}: func(order *Order, now time.Time) {
		forceOrderStatus(order, domain.OrderStatusCancelled, now)
	},
}

// applySideEffects runs the effect registered for (ledger, to) when from != to.
func applySideEffects(order *Order, ledger ledgerKind, from, to string, now time.Time) bool {
	if from == to {
		return false
	}
	effect, ok := sideEffects[sideEffectKey{ledger: ledger, status: to}]
	if !ok {
		return false
	}
	effect(order, now)
	return true
}

// forceOrderStatus overwrites the order status without consulting the administrative
// transition table and stamps the matching timestamp.
func forceOrderStatus(order *Order, status OrderStatus, at time.Time) {
	order.Status = status
	stampStatusTimestamps(order, status, at)
}

func stampStatusTimestamps(order *Order, status OrderStatus, at time.Time) {
	switch status {
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &at
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &at
		}
	}
}
