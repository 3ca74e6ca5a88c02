package services

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

// ShopResolver resolves which shop owns a catalog variant.
type ShopResolver struct {
	catalog repositories.CatalogRepository
}

// NewShopResolver builds a resolver over the catalog lookup.
func NewShopResolver(catalog repositories.CatalogRepository) (*ShopResolver, error) {
	if catalog == nil {
		return nil, errors.New("shop resolver: catalog repository is required")
	}
	return &ShopResolver{catalog: catalog}, nil
}

// Resolve returns the owning shop ID. A missing variant yields ErrOrderReferenceNotFound.
func (r *ShopResolver) Resolve(ctx context.Context, variantID string) (string, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return "", invalidInput("variant is required")
	}
	shopID, err := r.catalog.ShopOfVariant(ctx, variantID)
	if err != nil {
		return "", mapRepositoryError(err, ErrOrderReferenceNotFound)
	}
	if strings.TrimSpace(shopID) == "" {
		return "", invalidInput("variant %s has no owning shop", variantID)
	}
	return shopID, nil
}

// OrderDraft is the per-shop slice of a checkout before persistence.
type OrderDraft struct {
	ShopID        string
	Items         []OrderItem
	ItemsSubtotal int64
	ShippingCost  int64
	TotalPrice    int64
	TotalQuantity int
}

// OrderSplitter partitions checkout items by owning shop.
type OrderSplitter struct {
	shops *ShopResolver
}

// NewOrderSplitter builds a splitter using the given resolver.
func NewOrderSplitter(shops *ShopResolver) (*OrderSplitter, error) {
	if shops == nil {
		return nil, errors.New("order splitter: shop resolver is required")
	}
	return &OrderSplitter{shops: shops}, nil
}

// Split validates every item and groups them by shop, in order of each shop's first
// appearance. Item order inside a group follows the input. Any invalid item fails the whole
// split and no drafts are returned. Every draft carries the same shipping cost.
func (s *OrderSplitter) Split(ctx context.Context, items []CheckoutItem, shippingCost int64) ([]OrderDraft, error) {
	if len(items) == 0 {
		return nil, invalidInput("items must contain at least one entry")
	}
	if shippingCost < 0 {
		return nil, invalidInput("shippingCost must be zero or greater")
	}

	shopOf := make([]string, len(items))
	cache := make(map[string]string)
	for i, item := range items {
		if item.Quantity < 1 {
			return nil, invalidInput("items[%d].quantity must be at least 1", i)
		}
		if item.UnitPrice < 0 {
			return nil, invalidInput("items[%d].price must be zero or greater", i)
		}
		variantID := strings.TrimSpace(item.VariantID)
		if variantID == "" {
			return nil, invalidInput("items[%d].variant is required", i)
		}
		shopID, ok := cache[variantID]
		if !ok {
			resolved, err := s.shops.Resolve(ctx, variantID)
			if err != nil {
				return nil, err
			}
			shopID = resolved
			cache[variantID] = shopID
		}
		shopOf[i] = shopID
	}

	index := make(map[string]int)
	var drafts []OrderDraft
	for i, item := range items {
		pos, ok := index[shopOf[i]]
		if !ok {
			pos = len(drafts)
			index[shopOf[i]] = pos
			drafts = append(drafts, OrderDraft{ShopID: shopOf[i], ShippingCost: shippingCost})
		}
		draft := &drafts[pos]
		if item.UnitPrice > (math.MaxInt64-draft.ItemsSubtotal)/int64(item.Quantity) {
			return nil, invalidInput("items[%d] pushes the order total out of range", i)
		}
		if item.Quantity > math.MaxInt-draft.TotalQuantity {
			return nil, invalidInput("items[%d].quantity pushes the order quantity out of range", i)
		}
		draft.Items = append(draft.Items, OrderItem{
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
		draft.ItemsSubtotal += int64(item.Quantity) * item.UnitPrice
		draft.TotalQuantity += item.Quantity
	}
	for i := range drafts {
		if drafts[i].ItemsSubtotal > math.MaxInt64-shippingCost {
			return nil, invalidInput("order total for shop %s is out of range", drafts[i].ShopID)
		}
		drafts[i].TotalPrice = drafts[i].ItemsSubtotal + shippingCost
	}
	return drafts, nil
}
