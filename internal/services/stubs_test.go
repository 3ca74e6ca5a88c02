package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	case e.unavailable:
		return "unavailable"
	default:
		return "repository error"
	}
}

func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

// memoryOrderRepo mimics the Firestore repository: mutations run against a copy and bump the
// version; a mismatched expected version fails with a conflict.
type memoryOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	insertErr func(domain.Order) error
	mutateErr error
	inserted  []domain.Order
	deleted   []string
}

func newMemoryOrderRepo(orders ...domain.Order) *memoryOrderRepo {
	repo := &memoryOrderRepo{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		if err := r.insertErr(order); err != nil {
			return err
		}
	}
	if _, ok := r.orders[order.ID]; ok {
		return stubRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	r.inserted = append(r.inserted, order)
	return nil
}

func (r *memoryOrderRepo) Mutate(_ context.Context, orderID string, expectedVersion int64, mutate repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mutateErr != nil {
		return domain.Order{}, r.mutateErr
	}
	current, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	if expectedVersion != 0 && current.Version != expectedVersion {
		return domain.Order{}, stubRepoError{conflict: true}
	}
	next, err := mutate(current)
	if err != nil {
		return domain.Order{}, fmt.Errorf("mutate %s: %w", orderID, err)
	}
	next.Version = current.Version + 1
	r.orders[orderID] = next
	return next, nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoError{notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepo) ListAwaitingPayment(_ context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Order
	for _, order := range r.orders {
		if order.Payment.Status == domain.PaymentStatusAwaitingPayment && order.CreatedAt.Before(createdBefore) {
			result = append(result, order)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memoryOrderRepo) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderID)
	r.deleted = append(r.deleted, orderID)
	return nil
}

func (r *memoryOrderRepo) get(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[orderID]
}

type stubOrderNumberRepo struct {
	reserveFn func(number string) error
	reserved  []string
	released  []string
}

func (s *stubOrderNumberRepo) Reserve(_ context.Context, number string, _ string, _ time.Time) error {
	if s.reserveFn != nil {
		if err := s.reserveFn(number); err != nil {
			return err
		}
	}
	s.reserved = append(s.reserved, number)
	return nil
}

func (s *stubOrderNumberRepo) Release(_ context.Context, number string) error {
	s.released = append(s.released, number)
	return nil
}

type stubCatalogRepo struct {
	shops map[string]string
	calls int
}

func (s *stubCatalogRepo) ShopOfVariant(_ context.Context, variantID string) (string, error) {
	s.calls++
	shopID, ok := s.shops[variantID]
	if !ok {
		return "", stubRepoError{notFound: true}
	}
	return shopID, nil
}

type stubShopRepo struct {
	shops map[string]domain.Shop
}

func (s *stubShopRepo) FindByID(_ context.Context, shopID string) (domain.Shop, error) {
	shop, ok := s.shops[shopID]
	if !ok {
		return domain.Shop{}, stubRepoError{notFound: true}
	}
	return shop, nil
}

type stubUserRepo struct {
	existsFn func(string) (bool, error)
}

func (s *stubUserRepo) Exists(_ context.Context, userID string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(userID)
	}
	return true, nil
}

type stubAddressRepo struct {
	existsFn func(userID, addressID string) (bool, error)
}

func (s *stubAddressRepo) Exists(_ context.Context, userID, addressID string) (bool, error) {
	if s.existsFn != nil {
		return s.existsFn(userID, addressID)
	}
	return true, nil
}

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func (c *captureOrderEvents) types() []string {
	types := make([]string, 0, len(c.events))
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

type captureNotifier struct {
	notifications []ShopNotification
	failFor       map[string]error
}

func (c *captureNotifier) NotifyShop(_ context.Context, notification ShopNotification) error {
	c.notifications = append(c.notifications, notification)
	if err, ok := c.failFor[notification.ShopID]; ok {
		return err
	}
	return nil
}

type captureAudit struct {
	records []AuditLogRecord
}

func (c *captureAudit) Record(_ context.Context, record AuditLogRecord) {
	c.records = append(c.records, record)
}

type captureLogger struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.fields = append(c.fields, fields)
}

func (c *captureLogger) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")

func ptr[T any](v T) *T { return &v }

var testNow = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
