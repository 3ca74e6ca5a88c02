package handlers

import (
	"strings"

	"github.com/hanko-field/fulfillment/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string                `json:"id"`
	OrderNumber        string                `json:"orderNumber"`
	CheckoutID         string                `json:"checkoutId"`
	UserID             string                `json:"userId"`
	ShopID             string                `json:"shopId"`
	AddressID          string                `json:"addressId"`
	Status             string                `json:"status"`
	Items              []orderItemPayload    `json:"items"`
	TotalQuantity      int                   `json:"totalQuantity"`
	TotalPrice         int64                 `json:"totalPrice"`
	Payment            orderPaymentPayload   `json:"payment"`
	Shipment           orderShipmentPayload  `json:"shipment"`
	Customization      *customizationPayload `json:"customization,omitempty"`
	Description        string                `json:"description,omitempty"`
	ExpectedDeliveryAt string                `json:"expectedDeliveryAt,omitempty"`
	Version            int64                 `json:"version"`
	CreatedAt          string                `json:"createdAt"`
	UpdatedAt          string                `json:"updatedAt,omitempty"`
	CancelledAt        string                `json:"cancelledAt,omitempty"`
	DeliveredAt        string                `json:"deliveredAt,omitempty"`
}

type orderItemPayload struct {
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	Total     int64  `json:"total"`
}

type orderPaymentPayload struct {
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	PaymentDate string `json:"paymentDate,omitempty"`
	GatewayRef  string `json:"gatewayRef,omitempty"`
}

type orderShipmentPayload struct {
	ShippingCost   int64  `json:"shippingCost"`
	Status         string `json:"status"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	DeliveredAt    string `json:"deliveredAt,omitempty"`
	ReturnReason   string `json:"returnReason,omitempty"`
}

type customizationPayload struct {
	GiftMessage           string `json:"giftMessage,omitempty"`
	IsAnonymous           bool   `json:"isAnonymous"`
	DeliveryTimeRequested string `json:"deliveryTimeRequested,omitempty"`
	Notes                 string `json:"notes,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		CheckoutID:    strings.TrimSpace(order.CheckoutID),
		UserID:        strings.TrimSpace(order.UserID),
		ShopID:        strings.TrimSpace(order.ShopID),
		AddressID:     strings.TrimSpace(order.AddressID),
		Status:        string(order.Status),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		TotalQuantity: order.TotalQuantity,
		TotalPrice:    order.TotalPrice,
		Payment: orderPaymentPayload{
			Amount:      order.Payment.Amount,
			Method:      string(order.Payment.Method),
			Status:      string(order.Payment.Status),
			Description: order.Payment.Description,
			PaymentDate: formatTime(pointerTime(order.Payment.PaymentDate)),
			GatewayRef:  order.Payment.GatewayRef,
		},
		Shipment: orderShipmentPayload{
			ShippingCost:   order.Shipment.ShippingCost,
			Status:         string(order.Shipment.Status),
			Carrier:        order.Shipment.Carrier,
			TrackingNumber: order.Shipment.TrackingNumber,
			DeliveredAt:    formatTime(pointerTime(order.Shipment.DeliveredAt)),
			ReturnReason:   order.Shipment.ReturnReason,
		},
		Description:        order.Description,
		ExpectedDeliveryAt: formatTime(pointerTime(order.ExpectedDeliveryAt)),
		Version:            order.Version,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		CancelledAt:        formatTime(pointerTime(order.CancelledAt)),
		DeliveredAt:        formatTime(pointerTime(order.DeliveredAt)),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     int64(item.Quantity) * item.UnitPrice,
		})
	}

	if c := order.Customization; c != nil {
		payload.Customization = &customizationPayload{
			GiftMessage:           c.GiftMessage,
			IsAnonymous:           c.IsAnonymous,
			DeliveryTimeRequested: formatTime(pointerTime(c.DeliveryTimeRequested)),
			Notes:                 c.Notes,
		}
	}
	return payload
}
