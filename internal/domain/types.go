package domain

import (
	"time"
)

// OrderStatus enumerates the lifecycle states tracked on an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits preparation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusReadyForPickup indicates the shop has packed the order for the carrier.
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	// OrderStatusOutForDelivery indicates the carrier is delivering the order.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReturned indicates the order came back to the shop after delivery.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusCancelled indicates the order will not be fulfilled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod enumerates how the customer settles an order.
type PaymentMethod string

const (
	// PaymentMethodCOD collects cash from the customer at delivery time.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodBanking expects a bank transfer before fulfilment.
	PaymentMethodBanking PaymentMethod = "banking"
)

// PaymentStatus enumerates the states of the payment attached to an order.
type PaymentStatus string

const (
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusUnpaid          PaymentStatus = "unpaid"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusExpired         PaymentStatus = "expired"
	PaymentStatusRefunded        PaymentStatus = "refunded"
)

// ShipmentStatus enumerates the states of the shipment attached to an order.
type ShipmentStatus string

const (
	ShipmentStatusPending        ShipmentStatus = "pending"
	ShipmentStatusPickingUp      ShipmentStatus = "picking_up"
	ShipmentStatusOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered      ShipmentStatus = "delivered"
	ShipmentStatusFailed         ShipmentStatus = "failed"
)

// Order is one shop-scoped purchase produced by splitting a checkout.
type Order struct {
	ID                 string
	OrderNumber        string
	CheckoutID         string
	UserID             string
	ShopID             string
	AddressID          string
	Items              []OrderItem
	TotalQuantity      int
	TotalPrice         int64
	Status             OrderStatus
	Payment            Payment
	Shipment           Shipment
	Customization      *OrderCustomization
	Description        string
	ExpectedDeliveryAt *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
	DeliveredAt        *time.Time
}

// OrderItem is a purchased catalog variant with the price captured at checkout.
type OrderItem struct {
	VariantID string
	Quantity  int
	UnitPrice int64
}

// OrderCustomization holds optional presentation requests supplied by the customer.
type OrderCustomization struct {
	GiftMessage           string
	IsAnonymous           bool
	DeliveryTimeRequested *time.Time
	Notes                 string
}

// Payment is the payment record embedded in each order.
type Payment struct {
	Amount      int64
	Method      PaymentMethod
	Status      PaymentStatus
	Description string
	PaymentDate *time.Time
	GatewayRef  string
}

// Shipment is the delivery record embedded in each order.
type Shipment struct {
	ShippingCost   int64
	Status         ShipmentStatus
	Carrier        string
	TrackingNumber string
	DeliveredAt    *time.Time
	ReturnReason   string
}

// ItemsSubtotal sums quantity times unit price across the order items.
func (o Order) ItemsSubtotal() int64 {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	return subtotal
}

// Recalculate derives the quantity and price totals from items and shipping cost and keeps
// the payment amount in sync with the order total.
func (o *Order) Recalculate() {
	if o == nil {
		return
	}
	quantity := 0
	for _, item := range o.Items {
		quantity += item.Quantity
	}
	o.TotalQuantity = quantity
	o.TotalPrice = o.ItemsSubtotal() + o.Shipment.ShippingCost
	o.Payment.Amount = o.TotalPrice
}

// Shop is the catalog owner of a set of variants.
type Shop struct {
	ID    string
	Name  string
	Email string
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Severity  string
	RequestID string
	Diff      map[string]AuditLogDiff
	Metadata  map[string]any
	CreatedAt time.Time
}

// AuditLogDiff captures before/after values for a tracked field.
type AuditLogDiff struct {
	Before any
	After  any
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
