package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const orderNumbersCollection = "orderNumbers"

// OrderNumberRepository claims order numbers as documents keyed by the number itself, so the
// Firestore create precondition enforces uniqueness.
type OrderNumberRepository struct {
	numbers *pfirestore.Collection[orderNumberDocument]
}

var _ repositories.OrderNumberRepository = (*OrderNumberRepository)(nil)

type orderNumberDocument struct {
	OrderID    string    `firestore:"orderId"`
	ReservedAt time.Time `firestore:"reservedAt"`
}

// NewOrderNumberRepository constructs the reservation repository.
func NewOrderNumberRepository(provider *pfirestore.Provider) (*OrderNumberRepository, error) {
	if provider == nil {
		return nil, errors.New("order number repository requires firestore provider")
	}
	return &OrderNumberRepository{numbers: pfirestore.NewCollection[orderNumberDocument](provider, orderNumbersCollection)}, nil
}

// Reserve claims number for orderID. An existing claim surfaces as a conflict.
func (r *OrderNumberRepository) Reserve(ctx context.Context, number string, orderID string, reservedAt time.Time) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return errors.New("order number repository: number is required")
	}
	return r.numbers.Create(ctx, number, orderNumberDocument{OrderID: orderID, ReservedAt: reservedAt.UTC()})
}

// Release drops a claim.
func (r *OrderNumberRepository) Release(ctx context.Context, number string) error {
	return r.numbers.Delete(ctx, strings.TrimSpace(number))
}
