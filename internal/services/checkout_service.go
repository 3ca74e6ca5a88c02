package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

// CheckoutServiceDeps wires the collaborators used by the order creation pipeline.
type CheckoutServiceDeps struct {
	Users         repositories.UserRepository
	Addresses     repositories.AddressRepository
	Catalog       repositories.CatalogRepository
	Shops         repositories.ShopRepository
	Orders        repositories.OrderRepository
	OrderNumber   *OrderNumberAllocator
	Notifier      ShopNotifier
	// NotifyTimeout bounds each shop notification. Zero leaves the request deadline in charge.
	NotifyTimeout time.Duration
	Events        OrderEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	users     repositories.UserRepository
	addresses repositories.AddressRepository
	shops     repositories.ShopRepository
	orders    repositories.OrderRepository
	splitter  *OrderSplitter
	numbers   *OrderNumberAllocator
	notifier  ShopNotifier
	notifyTTL time.Duration
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	payments  PaymentLedger
	shipments ShipmentLedger
}

// NewCheckoutService constructs the order creation pipeline.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Users == nil {
		return nil, errors.New("checkout service: user repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout service: address repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.OrderNumber == nil {
		return nil, errors.New("checkout service: order number allocator is required")
	}
	resolver, err := NewShopResolver(deps.Catalog)
	if err != nil {
		return nil, err
	}
	splitter, err := NewOrderSplitter(resolver)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		users:     deps.Users,
		addresses: deps.Addresses,
		shops:     deps.Shops,
		orders:    deps.Orders,
		splitter:  splitter,
		numbers:   deps.OrderNumber,
		notifier:  deps.Notifier,
		notifyTTL: deps.NotifyTimeout,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// CreateOrders validates the checkout, splits it per shop and persists one order per shop.
// Validation failures abort before anything is written. Persistence is per shop, so a failure
// on a later shop leaves earlier orders committed.
func (s *checkoutService) CreateOrders(ctx context.Context, cmd CheckoutCommand) ([]Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if userID == "" {
		return nil, invalidInput("user is required")
	}
	if addressID == "" {
		return nil, invalidInput("address is required")
	}

	if err := s.ensureReferences(ctx, userID, addressID); err != nil {
		return nil, err
	}

	customization, err := s.normalizeCustomization(cmd.Customization)
	if err != nil {
		return nil, err
	}
	shipment, err := s.initialShipment(cmd.Shipment)
	if err != nil {
		return nil, err
	}
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(cmd.Payment.Method)))
	if _, err := s.payments.Initial(method, 0); err != nil {
		return nil, err
	}

	drafts, err := s.splitter.Split(ctx, cmd.Items, shipment.ShippingCost)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	checkoutID := s.newID()
	orders := make([]Order, 0, len(drafts))
	var persistErr error
	for _, draft := range drafts {
		order, err := s.persist(ctx, draft, checkoutID, userID, addressID, method, shipment, customization, now)
		if err != nil {
			persistErr = err
			break
		}
		orders = append(orders, order)
	}

	// Committed orders are announced even when a later shop failed to persist.
	for _, order := range orders {
		s.notifyShop(ctx, order)
		s.publishCreated(ctx, order)
	}
	return orders, persistErr
}

func (s *checkoutService) persist(ctx context.Context, draft OrderDraft, checkoutID, userID, addressID string, method PaymentMethod, shipment Shipment, customization *OrderCustomization, now time.Time) (Order, error) {
	orderID := orderIDPrefix + s.newID()
	payment, err := s.payments.Initial(method, draft.TotalPrice)
	if err != nil {
		return Order{}, err
	}
	order := Order{
		ID:         orderID,
		CheckoutID: checkoutID,
		UserID:     userID,
		ShopID:     draft.ShopID,
		AddressID:  addressID,
		Items:      append([]OrderItem(nil), draft.Items...),
		Status:     domain.OrderStatusPending,
		Payment:    payment,
		Shipment:   shipment,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if customization != nil {
		custom := *customization
		order.Customization = &custom
	}
	order.Recalculate()

	number, err := s.numbers.Allocate(ctx, orderID, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	if err := s.orders.Insert(ctx, order); err != nil {
		s.numbers.Release(ctx, number)
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *checkoutService) ensureReferences(ctx context.Context, userID, addressID string) error {
	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return mapRepositoryError(err, ErrOrderReferenceNotFound)
	}
	if !exists {
		return referenceNotFound("user %s", userID)
	}
	exists, err = s.addresses.Exists(ctx, userID, addressID)
	if err != nil {
		return mapRepositoryError(err, ErrOrderReferenceNotFound)
	}
	if !exists {
		return referenceNotFound("address %s", addressID)
	}
	return nil
}

func (s *checkoutService) normalizeCustomization(raw *CheckoutCustomization) (*OrderCustomization, error) {
	if raw == nil {
		return nil, nil
	}
	result := &OrderCustomization{IsAnonymous: raw.IsAnonymous}

	var err error
	if result.GiftMessage, err = cleanText(raw.GiftMessage, "customization.giftMessage"); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(result.GiftMessage) > maxGiftMessageRunes {
		return nil, invalidInput("customization.giftMessage must be at most %d characters", maxGiftMessageRunes)
	}
	if result.Notes, err = cleanText(raw.Notes, "customization.notes"); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(result.Notes) > maxNotesRunes {
		return nil, invalidInput("customization.notes must be at most %d characters", maxNotesRunes)
	}
	if requested := strings.TrimSpace(raw.DeliveryTimeRequested); requested != "" {
		ts, err := time.Parse(time.RFC3339, requested)
		if err != nil {
			return nil, invalidInput("customization.deliveryTimeRequested must be an RFC3339 timestamp")
		}
		ts = ts.UTC()
		result.DeliveryTimeRequested = &ts
	}
	return result, nil
}

// initialShipment validates the shipment intent. A new order cannot start in a terminal
// shipment state because the matching forced order transition would never run.
func (s *checkoutService) initialShipment(raw CheckoutShipment) (Shipment, error) {
	if raw.ShippingCost < 0 {
		return Shipment{}, invalidInput("shipment.shippingCost must be zero or greater")
	}
	shipment := Shipment{ShippingCost: raw.ShippingCost, Status: domain.ShipmentStatusPending}
	if strings.TrimSpace(raw.Status) == "" {
		return shipment, nil
	}
	status, err := s.shipments.ParseStatus(raw.Status)
	if err != nil {
		return Shipment{}, err
	}
	if shipmentTerminal(status) {
		return Shipment{}, invalidInput("shipment.status %s is not allowed for a new order", status)
	}
	shipment.Status = status
	return shipment, nil
}

func (s *checkoutService) notifyShop(ctx context.Context, order Order) {
	if s.notifier == nil || s.shops == nil {
		return
	}
	if s.notifyTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.notifyTTL)
		defer cancel()
	}
	fail := func(err error) {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"orderId": order.ID,
			"shopId":  order.ShopID,
			"error":   err,
		})
	}
	shop, err := s.shops.FindByID(ctx, order.ShopID)
	if err != nil {
		fail(err)
		return
	}
	if strings.TrimSpace(shop.Email) == "" {
		fail(errors.New("shop has no contact email"))
		return
	}
	err = s.notifier.NotifyShop(ctx, ShopNotification{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		ShopID:        order.ShopID,
		ShopName:      shop.Name,
		ShopEmail:     shop.Email,
		ItemCount:     len(order.Items),
		TotalQuantity: order.TotalQuantity,
		TotalPrice:    order.TotalPrice,
		PaymentMethod: string(order.Payment.Method),
		PlacedAt:      order.CreatedAt,
	})
	if err != nil {
		fail(err)
	}
}

func (s *checkoutService) publishCreated(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CheckoutID:    order.CheckoutID,
		ShopID:        order.ShopID,
		CurrentStatus: string(order.Status),
		ActorID:       order.UserID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"paymentMethod": string(order.Payment.Method),
			"totalPrice":    order.TotalPrice,
		},
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": order.ID,
			"error": err,
		})
	}
}
