package services

import (
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

var shipmentStatuses = map[string]ShipmentStatus{
	string(domain.ShipmentStatusPending):        domain.ShipmentStatusPending,
	string(domain.ShipmentStatusPickingUp):      domain.ShipmentStatusPickingUp,
	string(domain.ShipmentStatusOutForDelivery): domain.ShipmentStatusOutForDelivery,
	string(domain.ShipmentStatusDelivered):      domain.ShipmentStatusDelivered,
	string(domain.ShipmentStatusFailed):         domain.ShipmentStatusFailed,
}

// ShipmentChange is the validated request applied to a shipment.
type ShipmentChange struct {
	Status         *ShipmentStatus
	Carrier        *string
	TrackingNumber *string
	ReturnReason   *string
}

// ShipmentTransition is the result of applying a change.
type ShipmentTransition struct {
	Shipment Shipment
	From     ShipmentStatus
	To       ShipmentStatus
}

// Changed reports whether the status moved.
func (t ShipmentTransition) Changed() bool { return t.From != t.To }

// ShipmentLedger owns the shipment state machine. pending, picking_up and out_for_delivery
// move freely among themselves; any of them may end in delivered or failed, which are terminal.
type ShipmentLedger struct{}

// ParseStatus validates a raw status value.
func (ShipmentLedger) ParseStatus(raw string) (ShipmentStatus, error) {
	status, ok := shipmentStatuses[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", invalidInput("shipment.status %q is not a valid shipment status", raw)
	}
	return status, nil
}

// Apply validates change against current and returns the resulting shipment. Moving to
// delivered stamps deliveredAt with now.
func (ShipmentLedger) Apply(current Shipment, change ShipmentChange, now time.Time) (ShipmentTransition, error) {
	next := current
	result := ShipmentTransition{From: current.Status, To: current.Status}

	if change.Status != nil && *change.Status != current.Status {
		target := *change.Status
		if shipmentTerminal(current.Status) {
			return ShipmentTransition{}, invalidState("shipment is %s and cannot move to %s", current.Status, target)
		}
		next.Status = target
		result.To = target
		if target == domain.ShipmentStatusDelivered {
			deliveredAt := now
			next.DeliveredAt = &deliveredAt
		}
	}

	if change.Carrier != nil {
		next.Carrier = *change.Carrier
	}
	if change.TrackingNumber != nil {
		next.TrackingNumber = *change.TrackingNumber
	}
	if change.ReturnReason != nil {
		next.ReturnReason = *change.ReturnReason
	}
	result.Shipment = next
	return result, nil
}

func shipmentTerminal(status ShipmentStatus) bool {
	return status == domain.ShipmentStatusDelivered || status == domain.ShipmentStatusFailed
}
