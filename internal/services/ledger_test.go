package services

import (
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

func TestPaymentLedgerInitialFollowsMethod(t *testing.T) {
	ledger := PaymentLedger{}

	banking, err := ledger.Initial(domain.PaymentMethodBanking, 40000)
	if err != nil {
		t.Fatalf("Initial banking: %v", err)
	}
	if banking.Status != domain.PaymentStatusAwaitingPayment || banking.Amount != 40000 {
		t.Fatalf("unexpected banking payment %+v", banking)
	}

	cod, err := ledger.Initial(domain.PaymentMethodCOD, 25000)
	if err != nil {
		t.Fatalf("Initial cod: %v", err)
	}
	if cod.Status != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid for cod, got %s", cod.Status)
	}

	if _, err := ledger.Initial("card", 1); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown method, got %v", err)
	}
}

func TestPaymentLedgerTransitions(t *testing.T) {
	now := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{domain.PaymentStatusAwaitingPayment, domain.PaymentStatusPaid, true},
		{domain.PaymentStatusAwaitingPayment, domain.PaymentStatusExpired, true},
		{domain.PaymentStatusAwaitingPayment, domain.PaymentStatusUnpaid, false},
		{domain.PaymentStatusUnpaid, domain.PaymentStatusPaid, true},
		{domain.PaymentStatusUnpaid, domain.PaymentStatusExpired, false},
		{domain.PaymentStatusPaid, domain.PaymentStatusRefunded, true},
		{domain.PaymentStatusExpired, domain.PaymentStatusRefunded, true},
		{domain.PaymentStatusExpired, domain.PaymentStatusPaid, false},
		{domain.PaymentStatusRefunded, domain.PaymentStatusPaid, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			current := Payment{Method: domain.PaymentMethodBanking, Status: tc.from}
			to := tc.to
			result, err := PaymentLedger{}.Apply(current, PaymentChange{Status: &to}, now)
			if !tc.allowed {
				if !errors.Is(err, ErrOrderInvalidState) {
					t.Fatalf("expected invalid state, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if result.Payment.Status != tc.to || !result.Changed() {
				t.Fatalf("unexpected transition %+v", result)
			}
		})
	}
}

func TestPaymentLedgerPaidStampsDate(t *testing.T) {
	now := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	paid := domain.PaymentStatusPaid
	ref := "gw_123"

	result, err := PaymentLedger{}.Apply(Payment{Status: domain.PaymentStatusAwaitingPayment}, PaymentChange{Status: &paid, GatewayRef: &ref}, now)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Payment.PaymentDate == nil || !result.Payment.PaymentDate.Equal(now) {
		t.Fatalf("expected payment date %s, got %v", now, result.Payment.PaymentDate)
	}
	if result.Payment.GatewayRef != "gw_123" {
		t.Fatalf("expected gateway ref, got %q", result.Payment.GatewayRef)
	}

	supplied := now.Add(-time.Hour)
	result, err = PaymentLedger{}.Apply(Payment{Status: domain.PaymentStatusUnpaid}, PaymentChange{Status: &paid, PaymentDate: &supplied}, now)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !result.Payment.PaymentDate.Equal(supplied) {
		t.Fatalf("expected supplied payment date, got %v", result.Payment.PaymentDate)
	}
}

func TestPaymentLedgerSameStatusOnlyUpdatesMetadata(t *testing.T) {
	current := Payment{Status: domain.PaymentStatusPaid, Description: "old"}
	paid := domain.PaymentStatusPaid
	desc := "bank slip received"

	result, err := PaymentLedger{}.Apply(current, PaymentChange{Status: &paid, Description: &desc}, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Changed() {
		t.Fatalf("expected no status change")
	}
	if result.Payment.Description != desc || result.Payment.PaymentDate != nil {
		t.Fatalf("unexpected payment %+v", result.Payment)
	}
}

func TestPaymentLedgerParseStatusRejectsUnknown(t *testing.T) {
	if _, err := (PaymentLedger{}).ParseStatus("settled"); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	status, err := PaymentLedger{}.ParseStatus(" PAID ")
	if err != nil || status != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s %v", status, err)
	}
}

func TestShipmentLedgerTransitions(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		from    ShipmentStatus
		to      ShipmentStatus
		allowed bool
	}{
		{domain.ShipmentStatusPending, domain.ShipmentStatusPickingUp, true},
		{domain.ShipmentStatusPickingUp, domain.ShipmentStatusPending, true},
		{domain.ShipmentStatusOutForDelivery, domain.ShipmentStatusPickingUp, true},
		{domain.ShipmentStatusPending, domain.ShipmentStatusDelivered, true},
		{domain.ShipmentStatusOutForDelivery, domain.ShipmentStatusFailed, true},
		{domain.ShipmentStatusDelivered, domain.ShipmentStatusFailed, false},
		{domain.ShipmentStatusFailed, domain.ShipmentStatusPending, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			to := tc.to
			result, err := ShipmentLedger{}.Apply(Shipment{Status: tc.from}, ShipmentChange{Status: &to}, now)
			if !tc.allowed {
				if !errors.Is(err, ErrOrderInvalidState) {
					t.Fatalf("expected invalid state, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if result.Shipment.Status != tc.to {
				t.Fatalf("expected %s, got %s", tc.to, result.Shipment.Status)
			}
			if tc.to == domain.ShipmentStatusDelivered && (result.Shipment.DeliveredAt == nil || !result.Shipment.DeliveredAt.Equal(now)) {
				t.Fatalf("expected deliveredAt stamped, got %v", result.Shipment.DeliveredAt)
			}
		})
	}
}

func TestShipmentLedgerMetadataOnTerminalShipment(t *testing.T) {
	carrier := "yamato"
	result, err := ShipmentLedger{}.Apply(Shipment{Status: domain.ShipmentStatusDelivered}, ShipmentChange{Carrier: &carrier}, time.Now())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.Changed() || result.Shipment.Carrier != "yamato" {
		t.Fatalf("unexpected transition %+v", result)
	}
}

func TestSideEffectsTable(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	deliveredAt := now.Add(-time.Minute)

	t.Run("cod delivery pays at delivery time", func(t *testing.T) {
		order := Order{
			Status:   domain.OrderStatusOutForDelivery,
			Payment:  Payment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusUnpaid},
			Shipment: Shipment{Status: domain.ShipmentStatusDelivered, DeliveredAt: &deliveredAt},
		}
		if !applySideEffects(&order, ledgerShipment, "out_for_delivery", "delivered", now) {
			t.Fatalf("expected effect to fire")
		}
		if order.Status != domain.OrderStatusDelivered {
			t.Fatalf("expected delivered, got %s", order.Status)
		}
		if order.Payment.Status != domain.PaymentStatusPaid || !order.Payment.PaymentDate.Equal(deliveredAt) {
			t.Fatalf("unexpected payment %+v", order.Payment)
		}
	})

	t.Run("banking delivery leaves payment", func(t *testing.T) {
		order := Order{
			Payment:  Payment{Method: domain.PaymentMethodBanking, Status: domain.PaymentStatusAwaitingPayment},
			Shipment: Shipment{Status: domain.ShipmentStatusDelivered, DeliveredAt: &deliveredAt},
		}
		applySideEffects(&order, ledgerShipment, "pending", "delivered", now)
		if order.Payment.Status != domain.PaymentStatusAwaitingPayment {
			t.Fatalf("banking payment must not change, got %s", order.Payment.Status)
		}
	})

	t.Run("cod already paid keeps date", func(t *testing.T) {
		paidAt := now.Add(-48 * time.Hour)
		order := Order{
			Payment:  Payment{Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPaid, PaymentDate: &paidAt},
			Shipment: Shipment{Status: domain.ShipmentStatusDelivered, DeliveredAt: &deliveredAt},
		}
		applySideEffects(&order, ledgerShipment, "pending", "delivered", now)
		if !order.Payment.PaymentDate.Equal(paidAt) {
			t.Fatalf("expected original payment date, got %v", order.Payment.PaymentDate)
		}
	})

	t.Run("failed shipment cancels", func(t *testing.T) {
		order := Order{Status: domain.OrderStatusOutForDelivery}
		applySideEffects(&order, ledgerShipment, "out_for_delivery", "failed", now)
		if order.Status != domain.OrderStatusCancelled || order.CancelledAt == nil {
			t.Fatalf("expected cancelled with timestamp, got %+v", order)
		}
	})

	t.Run("expired payment cancels", func(t *testing.T) {
		order := Order{Status: domain.OrderStatusPending}
		applySideEffects(&order, ledgerPayment, "awaiting_payment", "expired", now)
		if order.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled, got %s", order.Status)
		}
	})

	t.Run("no change no effect", func(t *testing.T) {
		order := Order{Status: domain.OrderStatusPending}
		if applySideEffects(&order, ledgerShipment, "failed", "failed", now) {
			t.Fatalf("expected no effect for unchanged status")
		}
		if applySideEffects(&order, ledgerPayment, "unpaid", "paid", now) {
			t.Fatalf("expected no effect for unregistered transition")
		}
		if order.Status != domain.OrderStatusPending {
			t.Fatalf("order status must not change, got %s", order.Status)
		}
	})
}
