package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists shop orders in Firestore. Every mutation runs in a transaction that
// checks and bumps the stored version.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document and fails with a conflict when the ID is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

// Mutate applies mutate to the stored order inside a transaction. Fields fixed at creation are
// restored after mutate runs.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, expectedVersion int64, mutate repositories.OrderMutation) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutation is required")
	}
	ref, err := r.orders.Doc(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}

	var saved domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snapshot)
		if err != nil {
			return err
		}
		current := doc.Data.toDomain(doc.ID)
		if expectedVersion > 0 && current.Version != expectedVersion {
			return pfirestore.Conflict("orders.mutate", "order %s is at version %d, expected %d", orderID, current.Version, expectedVersion)
		}

		next, err := mutate(current)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.OrderNumber = current.OrderNumber
		next.CheckoutID = current.CheckoutID
		next.UserID = current.UserID
		next.ShopID = current.ShopID
		next.Payment.Method = current.Payment.Method
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1

		if err := tx.Set(ref, newOrderDocument(next)); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}
	return saved, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListAwaitingPayment returns orders still awaiting payment that were created before the
// cutoff, oldest first. Requires a composite index on (payment.status, createdAt).
func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("payment.status", "==", string(domain.PaymentStatusAwaitingPayment)).
			Where("createdAt", "<", createdBefore.UTC()).
			OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// Delete removes the order document.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.orders.Delete(ctx, strings.TrimSpace(orderID))
}

type orderDocument struct {
	OrderNumber        string                      `firestore:"orderNumber"`
	CheckoutID         string                      `firestore:"checkoutId"`
	UserID             string                      `firestore:"userId"`
	ShopID             string                      `firestore:"shopId"`
	AddressID          string                      `firestore:"addressId"`
	Items              []orderItemDocument         `firestore:"items"`
	TotalQuantity      int                         `firestore:"totalQuantity"`
	TotalPrice         int64                       `firestore:"totalPrice"`
	Status             string                      `firestore:"status"`
	Payment            paymentDocument             `firestore:"payment"`
	Shipment           shipmentDocument            `firestore:"shipment"`
	Customization      *orderCustomizationDocument `firestore:"customization,omitempty"`
	Description        string                      `firestore:"description,omitempty"`
	ExpectedDeliveryAt *time.Time                  `firestore:"expectedDeliveryAt,omitempty"`
	Version            int64                       `firestore:"version"`
	CreatedAt          time.Time                   `firestore:"createdAt"`
	UpdatedAt          time.Time                   `firestore:"updatedAt"`
	CancelledAt        *time.Time                  `firestore:"cancelledAt,omitempty"`
	DeliveredAt        *time.Time                  `firestore:"deliveredAt,omitempty"`
}

type orderItemDocument struct {
	VariantID string `firestore:"variantId"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type paymentDocument struct {
	Amount      int64      `firestore:"amount"`
	Method      string     `firestore:"method"`
	Status      string     `firestore:"status"`
	Description string     `firestore:"description,omitempty"`
	PaymentDate *time.Time `firestore:"paymentDate,omitempty"`
	GatewayRef  string     `firestore:"gatewayRef,omitempty"`
}

type shipmentDocument struct {
	ShippingCost   int64      `firestore:"shippingCost"`
	Status         string     `firestore:"status"`
	Carrier        string     `firestore:"carrier,omitempty"`
	TrackingNumber string     `firestore:"trackingNumber,omitempty"`
	DeliveredAt    *time.Time `firestore:"deliveredAt,omitempty"`
	ReturnReason   string     `firestore:"returnReason,omitempty"`
}

type orderCustomizationDocument struct {
	GiftMessage           string     `firestore:"giftMessage,omitempty"`
	IsAnonymous           bool       `firestore:"isAnonymous"`
	DeliveryTimeRequested *time.Time `firestore:"deliveryTimeRequested,omitempty"`
	Notes                 string     `firestore:"notes,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:        order.OrderNumber,
		CheckoutID:         order.CheckoutID,
		UserID:             order.UserID,
		ShopID:             order.ShopID,
		AddressID:          order.AddressID,
		Items:              make([]orderItemDocument, 0, len(order.Items)),
		TotalQuantity:      order.TotalQuantity,
		TotalPrice:         order.TotalPrice,
		Status:             string(order.Status),
		Description:        order.Description,
		ExpectedDeliveryAt: utcPtr(order.ExpectedDeliveryAt),
		Version:            order.Version,
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		CancelledAt:        utcPtr(order.CancelledAt),
		DeliveredAt:        utcPtr(order.DeliveredAt),
		Payment: paymentDocument{
			Amount:      order.Payment.Amount,
			Method:      string(order.Payment.Method),
			Status:      string(order.Payment.Status),
			Description: order.Payment.Description,
			PaymentDate: utcPtr(order.Payment.PaymentDate),
			GatewayRef:  order.Payment.GatewayRef,
		},
		Shipment: shipmentDocument{
			ShippingCost:   order.Shipment.ShippingCost,
			Status:         string(order.Shipment.Status),
			Carrier:        order.Shipment.Carrier,
			TrackingNumber: order.Shipment.TrackingNumber,
			DeliveredAt:    utcPtr(order.Shipment.DeliveredAt),
			ReturnReason:   order.Shipment.ReturnReason,
		},
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{VariantID: item.VariantID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	if c := order.Customization; c != nil {
		doc.Customization = &orderCustomizationDocument{
			GiftMessage:           c.GiftMessage,
			IsAnonymous:           c.IsAnonymous,
			DeliveryTimeRequested: utcPtr(c.DeliveryTimeRequested),
			Notes:                 c.Notes,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                 id,
		OrderNumber:        d.OrderNumber,
		CheckoutID:         d.CheckoutID,
		UserID:             d.UserID,
		ShopID:             d.ShopID,
		AddressID:          d.AddressID,
		Items:              make([]domain.OrderItem, 0, len(d.Items)),
		TotalQuantity:      d.TotalQuantity,
		TotalPrice:         d.TotalPrice,
		Status:             domain.OrderStatus(d.Status),
		Description:        d.Description,
		ExpectedDeliveryAt: utcPtr(d.ExpectedDeliveryAt),
		Version:            d.Version,
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
		CancelledAt:        utcPtr(d.CancelledAt),
		DeliveredAt:        utcPtr(d.DeliveredAt),
		Payment: domain.Payment{
			Amount:      d.Payment.Amount,
			Method:      domain.PaymentMethod(d.Payment.Method),
			Status:      domain.PaymentStatus(d.Payment.Status),
			Description: d.Payment.Description,
			PaymentDate: utcPtr(d.Payment.PaymentDate),
			GatewayRef:  d.Payment.GatewayRef,
		},
		Shipment: domain.Shipment{
			ShippingCost:   d.Shipment.ShippingCost,
			Status:         domain.ShipmentStatus(d.Shipment.Status),
			Carrier:        d.Shipment.Carrier,
			TrackingNumber: d.Shipment.TrackingNumber,
			DeliveredAt:    utcPtr(d.Shipment.DeliveredAt),
			ReturnReason:   d.Shipment.ReturnReason,
		},
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{VariantID: item.VariantID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	if c := d.Customization; c != nil {
		order.Customization = &domain.OrderCustomization{
			GiftMessage:           c.GiftMessage,
			IsAnonymous:           c.IsAnonymous,
			DeliveryTimeRequested: utcPtr(c.DeliveryTimeRequested),
			Notes:                 c.Notes,
		}
	}
	return order
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	value := ts.UTC()
	return &value
}
