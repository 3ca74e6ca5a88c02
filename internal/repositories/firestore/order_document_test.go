package firestore

import (
	"testing"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

func TestOrderDocumentRoundTrip(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	delivered := time.Date(2025, 4, 2, 18, 0, 0, 0, jst)
	requested := time.Date(2025, 4, 3, 10, 0, 0, 0, jst)
	order := domain.Order{
		ID:          "ord_1",
		OrderNumber: "K7WQ2M9XAB",
		CheckoutID:  "01JCHECKOUT",
		UserID:      "user-1",
		ShopID:      "shop-a",
		AddressID:   "addr-1",
		Items:       []domain.OrderItem{{VariantID: "v-1", Quantity: 2, UnitPrice: 10000}, {VariantID: "v-2", Quantity: 1, UnitPrice: 300}},
		Status:      domain.OrderStatusDelivered,
		Payment:     domain.Payment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPaid, PaymentDate: &delivered},
		Shipment:    domain.Shipment{ShippingCost: 20000, Status: domain.ShipmentStatusDelivered, DeliveredAt: &delivered, Carrier: "yamato"},
		Customization: &domain.OrderCustomization{
			GiftMessage:           "for you",
			DeliveryTimeRequested: &requested,
		},
		Version:     3,
		DeliveredAt: &delivered,
	}
	order.Recalculate()

	doc := newOrderDocument(order)
	if doc.Payment.Status != "paid" || doc.Shipment.Carrier != "yamato" || len(doc.Items) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Shipment.DeliveredAt.Location() != time.UTC {
		t.Fatalf("expected timestamps stored in UTC")
	}

	back := doc.toDomain("ord_1")
	if back.TotalPrice != order.TotalPrice || back.Payment.Amount != order.Payment.Amount {
		t.Fatalf("totals changed: %+v", back)
	}
	if !back.Payment.PaymentDate.Equal(delivered) || !back.Customization.DeliveryTimeRequested.Equal(requested) {
		t.Fatalf("timestamps changed: %+v", back)
	}
	if back.Items[1].VariantID != "v-2" || back.Version != 3 || back.Status != domain.OrderStatusDelivered {
		t.Fatalf("unexpected order %+v", back)
	}
}

func TestOrderDocumentWithoutOptionalFields(t *testing.T) {
	doc := newOrderDocument(domain.Order{ID: "ord_2", Status: domain.OrderStatusPending})
	if doc.Customization != nil || doc.ExpectedDeliveryAt != nil || doc.Payment.PaymentDate != nil {
		t.Fatalf("expected optional fields omitted, got %+v", doc)
	}
	back := doc.toDomain("ord_2")
	if back.Customization != nil || back.Items == nil {
		t.Fatalf("unexpected order %+v", back)
	}
}
