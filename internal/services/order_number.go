package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	orderNumberAlphabet        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	defaultOrderNumberLength   = 10
	defaultOrderNumberAttempts = 8
)

// OrderNumberAllocator reserves unique order numbers with bounded retries. Each attempt draws
// a random code and claims it atomically; a collision draws again.
type OrderNumberAllocator struct {
	numbers  repositories.OrderNumberRepository
	length   int
	attempts int
	generate func(length int) (string, error)
	logger   func(context.Context, string, map[string]any)
}

// OrderNumberAllocatorDeps bundles allocator collaborators.
type OrderNumberAllocatorDeps struct {
	Numbers   repositories.OrderNumberRepository
	Length    int
	Attempts  int
	Generator func(length int) (string, error)
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderNumberAllocator builds an allocator.
func NewOrderNumberAllocator(deps OrderNumberAllocatorDeps) (*OrderNumberAllocator, error) {
	if deps.Numbers == nil {
		return nil, errors.New("order number allocator: repository is required")
	}
	a := &OrderNumberAllocator{
		numbers:  deps.Numbers,
		length:   deps.Length,
		attempts: deps.Attempts,
		generate: deps.Generator,
		logger:   deps.Logger,
	}
	if a.length <= 0 {
		a.length = defaultOrderNumberLength
	}
	if a.attempts <= 0 {
		a.attempts = defaultOrderNumberAttempts
	}
	if a.generate == nil {
		a.generate = randomOrderNumber
	}
	if a.logger == nil {
		a.logger = func(context.Context, string, map[string]any) {}
	}
	return a, nil
}

// Allocate reserves a number for orderID. After the configured attempts it returns
// ErrOrderNumberExhausted.
func (a *OrderNumberAllocator) Allocate(ctx context.Context, orderID string, now time.Time) (string, error) {
	for attempt := 1; attempt <= a.attempts; attempt++ {
		number, err := a.generate(a.length)
		if err != nil {
			return "", fmt.Errorf("order number allocator: generate: %w", err)
		}
		err = a.numbers.Reserve(ctx, number, orderID, now)
		if err == nil {
			return number, nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return "", mapRepositoryError(err, ErrOrderNotFound)
		}
		a.logger(ctx, "order.number.collision", map[string]any{
			"orderId": orderID,
			"attempt": attempt,
		})
	}
	return "", fmt.Errorf("%w: %d attempts", ErrOrderNumberExhausted, a.attempts)
}

// Release frees a reservation whose order was never written.
func (a *OrderNumberAllocator) Release(ctx context.Context, number string) {
	if err := a.numbers.Release(ctx, number); err != nil {
		a.logger(ctx, "order.number.release.failed", map[string]any{
			"orderNumber": number,
			"error":       err,
		})
	}
}

func randomOrderNumber(length int) (string, error) {
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = orderNumberAlphabet[n.Int64()]
	}
	return string(buf), nil
}
