package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/fulfillment/internal/platform/config"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/platform/idempotency"
	"github.com/hanko-field/fulfillment/internal/platform/jobs"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/repositories"
	firestoreRepo "github.com/hanko-field/fulfillment/internal/repositories/firestore"
	"github.com/hanko-field/fulfillment/internal/services"
)

const envPubSubEmulatorHost = "PUBSUB_EMULATOR_HOST"

// Services bundles the service-layer contracts that handlers and jobs rely upon.
type Services struct {
	Checkout services.CheckoutService
	Orders   services.OrderService
	System   services.SystemService
	Audit    services.AuditLogService
}

// Container wires repositories, services, and messaging infrastructure for runtime use.
type Container struct {
	Config      config.Config
	Firestore   *pfirestore.Provider
	Idempotency *idempotency.FirestoreStore
	Services    Services

	pubsub *pubsub.Client
	topics []*pubsub.Topic
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	build       services.BuildInfo
	clock       func() time.Time
	secretProbe func(ctx context.Context) error
	withoutMsg  bool
}

// WithLogger sets the base logger handed to services.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the build metadata reported by the readiness probe.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

// WithClock overrides the time source used by services.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithSecretProbe adds a Secret Manager readiness check.
func WithSecretProbe(probe func(ctx context.Context) error) Option {
	return func(o *options) {
		o.secretProbe = probe
	}
}

// WithoutMessaging skips Pub/Sub wiring. Order events and shop notifications are then dropped,
// which suits one-shot jobs that only sweep payments.
func WithoutMessaging() Option {
	return func(o *options) {
		o.withoutMsg = true
	}
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{
		Config:    cfg,
		Firestore: pfirestore.NewProvider(cfg.Firestore),
	}
	c.Idempotency = idempotency.NewFirestoreStore(c.Firestore)

	var (
		events   services.OrderEventPublisher
		notifier services.ShopNotifier
	)
	if !o.withoutMsg && strings.TrimSpace(cfg.PubSub.ProjectID) != "" {
		client, err := newPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		c.pubsub = client

		eventsTopic := client.Topic(cfg.PubSub.OrderEventsTopic)
		noticeTopic := client.Topic(cfg.PubSub.ShopNotifications)
		c.topics = append(c.topics, eventsTopic, noticeTopic)

		publisher, err := jobs.NewPubSubOrderEventPublisher(eventsTopic)
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("build order event publisher: %w", err)
		}
		shopNotifier, err := jobs.NewPubSubShopNotifier(noticeTopic)
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("build shop notifier: %w", err)
		}
		events, notifier = publisher, shopNotifier
	}

	svc, err := c.buildServices(cfg, o, events, notifier)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close stops Pub/Sub publishers and releases the Firestore client.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, topic := range c.topics {
		topic.Stop()
	}
	c.topics = nil
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
		c.pubsub = nil
	}
	if c.Firestore != nil {
		if err := c.Firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildServices(cfg config.Config, o options, events services.OrderEventPublisher, notifier services.ShopNotifier) (Services, error) {
	var svc Services
	provider := c.Firestore

	auditRepo, err := firestoreRepo.NewAuditLogRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build audit log repository: %w", err)
	}
	svc.Audit, err = services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Clock:      o.clock,
		Logger:     observability.EventLogger(o.logger.Named("audit")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}

	ordersRepo, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build order repository: %w", err)
	}
	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:          ordersRepo,
		Audit:           svc.Audit,
		Events:          events,
		Clock:           o.clock,
		PaymentExpiry:   cfg.Orders.PaymentExpiry,
		ExpiryBatchSize: cfg.Orders.ExpiryBatchSize,
		Logger:          observability.EventLogger(o.logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	numbersRepo, err := firestoreRepo.NewOrderNumberRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build order number repository: %w", err)
	}
	allocator, err := services.NewOrderNumberAllocator(services.OrderNumberAllocatorDeps{
		Numbers:  numbersRepo,
		Length:   cfg.Orders.NumberLength,
		Attempts: cfg.Orders.NumberAttempts,
		Logger:   observability.EventLogger(o.logger.Named("order_numbers")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number allocator: %w", err)
	}

	usersRepo, err := firestoreRepo.NewUserRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build user repository: %w", err)
	}
	addressRepo, err := firestoreRepo.NewAddressRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build address repository: %w", err)
	}
	catalogRepo, err := firestoreRepo.NewCatalogRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build catalog repository: %w", err)
	}
	shopsRepo, err := firestoreRepo.NewShopRepository(provider)
	if err != nil {
		return Services{}, fmt.Errorf("build shop repository: %w", err)
	}
	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Users:         usersRepo,
		Addresses:     addressRepo,
		Catalog:       catalogRepo,
		Shops:         shopsRepo,
		Orders:        ordersRepo,
		OrderNumber:   allocator,
		Notifier:      notifier,
		NotifyTimeout: cfg.Orders.NotificationTimeout,
		Events:        events,
		Clock:         o.clock,
		Logger:        observability.EventLogger(o.logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(c.dependencyChecks(o), repositories.WithDependencyClock(o.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            o.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return svc, nil
}

func (c *Container) dependencyChecks(o options) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   c.Firestore.Ping,
	}}
	if len(c.topics) > 0 {
		topics := c.topics
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				for _, topic := range topics {
					ok, err := topic.Exists(ctx)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("topic %s does not exist", topic.ID())
					}
				}
				return nil
			},
		})
	}
	if o.secretProbe != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check:   o.secretProbe,
		})
	}
	return checks
}

func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	var opts []option.ClientOption
	host := strings.TrimSpace(cfg.EmulatorHost)
	if host == "" {
		host = strings.TrimSpace(os.Getenv(envPubSubEmulatorHost))
	}
	if host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	return client, nil
}
