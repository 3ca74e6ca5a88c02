package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderCustomization = domain.OrderCustomization
	OrderStatus        = domain.OrderStatus
	Payment            = domain.Payment
	PaymentMethod      = domain.PaymentMethod
	PaymentStatus      = domain.PaymentStatus
	Shipment           = domain.Shipment
	ShipmentStatus     = domain.ShipmentStatus
	Shop               = domain.Shop
	AuditLogEntry      = domain.AuditLogEntry
	AuditLogDiff       = domain.AuditLogDiff
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService is the lifecycle coordinator. It is the only component that mutates persisted
// orders after creation: administrative edits plus the payment and shipment ledgers, whose
// transitions may force order status changes through the side-effect table.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	UpdatePayment(ctx context.Context, cmd UpdatePaymentCommand) (Order, error)
	UpdateShipment(ctx context.Context, cmd UpdateShipmentCommand) (Order, error)
	RemoveOrder(ctx context.Context, cmd RemoveOrderCommand) error
	ExpireStalePayments(ctx context.Context, cmd ExpireStalePaymentsCommand) (ExpireStalePaymentsResult, error)
}

// CheckoutService turns one checkout into persisted shop-orders.
type CheckoutService interface {
	CreateOrders(ctx context.Context, cmd CheckoutCommand) ([]Order, error)
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// AuditLogService centralizes immutable audit log persistence.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ShopNotifier delivers the new-order notice to the owning shop.
type ShopNotifier interface {
	NotifyShop(ctx context.Context, notification ShopNotification) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	CheckoutID     string         `json:"checkoutId,omitempty"`
	ShopID         string         `json:"shopId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ShopNotification is the new-order notice sent to a shop's contact address.
type ShopNotification struct {
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber"`
	ShopID        string    `json:"shopId"`
	ShopName      string    `json:"shopName,omitempty"`
	ShopEmail     string    `json:"shopEmail"`
	ItemCount     int       `json:"itemCount"`
	TotalQuantity int       `json:"totalQuantity"`
	TotalPrice    int64     `json:"totalPrice"`
	PaymentMethod string    `json:"paymentMethod"`
	PlacedAt      time.Time `json:"placedAt"`
}

// Actor identifies who requested a mutation, for audit and event attribution.
type Actor struct {
	ID   string
	Type string
}

const (
	ActorTypeUser    = "user"
	ActorTypeStaff   = "staff"
	ActorTypeService = "service"
	ActorTypeSystem  = "system"
)

// CheckoutCommand is one customer checkout spanning one or more shops.
type CheckoutCommand struct {
	UserID        string
	AddressID     string
	Items         []CheckoutItem
	Payment       CheckoutPayment
	Shipment      CheckoutShipment
	Customization *CheckoutCustomization
}

// CheckoutItem is a finalized cart line.
type CheckoutItem struct {
	VariantID string
	Quantity  int
	UnitPrice int64
}

// CheckoutPayment carries the payment intent. Method must be cod or banking.
type CheckoutPayment struct {
	Method string
}

// CheckoutShipment carries the shipment intent shared by every shop-order.
type CheckoutShipment struct {
	ShippingCost int64
	Status       string
}

// CheckoutCustomization is the raw customization block. DeliveryTimeRequested is RFC 3339 text.
type CheckoutCustomization struct {
	GiftMessage           string
	IsAnonymous           bool
	DeliveryTimeRequested string
	Notes                 string
}

// UpdateOrderCommand is an administrative edit. Fields lists every key present in the request so
// forbidden keys can be rejected before anything is applied.
type UpdateOrderCommand struct {
	OrderID            string
	ExpectedVersion    int64
	Fields             []string
	Status             *string
	Description        *string
	ExpectedDeliveryAt *time.Time
	ClearExpectedAt    bool
	Actor              Actor
}

// UpdatePaymentCommand drives the payment ledger.
type UpdatePaymentCommand struct {
	OrderID         string
	ExpectedVersion int64
	Status          *string
	Description     *string
	PaymentDate     *time.Time
	GatewayRef      *string
	Actor           Actor
}

// UpdateShipmentCommand drives the shipment ledger.
type UpdateShipmentCommand struct {
	OrderID         string
	ExpectedVersion int64
	Status          *string
	Carrier         *string
	TrackingNumber  *string
	ReturnReason    *string
	Actor           Actor
}

// RemoveOrderCommand deletes an order unconditionally.
type RemoveOrderCommand struct {
	OrderID string
	Reason  string
	Actor   Actor
}

// ExpireStalePaymentsCommand selects banking orders still awaiting payment after OlderThan.
type ExpireStalePaymentsCommand struct {
	OlderThan time.Duration
	Limit     int
	DryRun    bool
	Actor     Actor
}

// ExpireStalePaymentsResult reports the outcome of an expiry sweep.
type ExpireStalePaymentsResult struct {
	Examined int      `json:"examined"`
	Expired  []string `json:"expired"`
	Skipped  []string `json:"skipped"`
	Failed   []string `json:"failed"`
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	Severity   string
	RequestID  string
	OccurredAt time.Time
	Metadata   map[string]any
	Diff       map[string]AuditLogDiff
}
