package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation computes the next state of an order from the currently stored one. Returning an
// error aborts the write.
type OrderMutation func(current domain.Order) (domain.Order, error)

// OrderRepository persists shop orders with their embedded payment and shipment records.
type OrderRepository interface {
	// Insert creates the order document. The order number must already be reserved.
	Insert(ctx context.Context, order domain.Order) error
	// Mutate runs a read-modify-write of a single order atomically. The stored version must match
	// expectedVersion (when non-zero) or the call fails with a conflict error; the persisted
	// version is incremented by one.
	Mutate(ctx context.Context, orderID string, expectedVersion int64, mutate OrderMutation) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListAwaitingPayment(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error)
	Delete(ctx context.Context, orderID string) error
}

// OrderNumberRepository guarantees order number uniqueness through reservation documents.
type OrderNumberRepository interface {
	// Reserve claims the number for the order. Numbers already claimed fail with a conflict error.
	Reserve(ctx context.Context, number string, orderID string, reservedAt time.Time) error
	Release(ctx context.Context, number string) error
}

// CatalogRepository resolves catalog variants to the shops that own them.
type CatalogRepository interface {
	ShopOfVariant(ctx context.Context, variantID string) (string, error)
}

// ShopRepository exposes shop contact details used for notifications.
type ShopRepository interface {
	FindByID(ctx context.Context, shopID string) (domain.Shop, error)
}

// UserRepository answers existence checks for customer accounts.
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// AddressRepository answers existence checks for addresses in a user's address book.
type AddressRepository interface {
	Exists(ctx context.Context, userID string, addressID string) (bool, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
}

// HealthRepository collects dependency health information for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
