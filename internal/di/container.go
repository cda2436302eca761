package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/payments"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/config"
	"github.com/hanko-field/orderflow/internal/platform/events"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/platform/idempotency"
	"github.com/hanko-field/orderflow/internal/platform/observability"
	"github.com/hanko-field/orderflow/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderflow/internal/repositories/firestore"
	"github.com/hanko-field/orderflow/internal/repositories/memory"
	"github.com/hanko-field/orderflow/internal/repositories/postgres"
	redisRepo "github.com/hanko-field/orderflow/internal/repositories/redis"
	"github.com/hanko-field/orderflow/internal/services"
)

const (
	idempotencyCollection = "idempotencyKeys"
	storeCheckTimeout     = 3 * time.Second
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Discounts services.DiscountService
	Stock     services.StockLedger
	Orders    services.OrderService
	Payments  services.PaymentService
	Checkout  services.CheckoutService
	Counters  services.CounterService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Gateways     *payments.Manager
	Idempotency  idempotency.Store
	Nonces       auth.NonceStore
	Events       services.EventPublisher

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	registry repositories.Registry
	build    services.BuildInfo
	clock    func() time.Time
}

// WithRegistry supplies a prebuilt registry instead of the one selected by Store.Backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies from configuration. Resources opened along the
// way are released if a later step fails.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock().UTC()
	}

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	var firestoreProvider *pfirestore.Provider
	reg := o.registry
	if reg == nil {
		reg, firestoreProvider, err = c.openRegistry(ctx, cfg)
		if err != nil {
			return c, err
		}
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)

	var redisClient *redisRepo.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redisRepo.NewClient(ctx, redisRepo.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return c, fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return redisClient.Close() })
	}

	switch {
	case redisClient != nil:
		c.Idempotency = idempotency.NewRedisStore(redisClient.Raw(), redisClient.Key("idempotency")+":")
		c.Nonces = redisRepo.NewNonceStore(redisClient)
	case firestoreProvider != nil:
		c.Idempotency = idempotency.NewFirestoreStore(firestoreProvider, idempotencyCollection)
		c.Nonces = auth.NewMemoryNonceStore()
	default:
		c.Idempotency = idempotency.NewMemoryStore()
		c.Nonces = auth.NewMemoryNonceStore()
	}

	var topic *pubsub.Topic
	c.Events, topic, err = c.openEvents(ctx, cfg, logger.Named("events"))
	if err != nil {
		return c, err
	}

	c.Gateways, err = buildGateways(cfg, logger)
	if err != nil {
		return c, err
	}

	counterRepo := reg.Counters()
	if cfg.Orders.CounterBackend == config.CounterRedis {
		if redisClient == nil {
			return c, errors.New("redis counter backend requires Redis.Addr")
		}
		counterRepo = redisRepo.NewCounterRepository(redisClient)
	}

	checks := []repositories.DependencyCheck{{
		Name:    "store",
		Timeout: storeCheckTimeout,
		Check:   reg.Ping,
	}}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: cfg.Orders.CounterBackend != config.CounterRedis,
			Check:    redisClient.Ping,
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "events",
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("pubsub topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
	if err != nil {
		return c, fmt.Errorf("build health repository: %w", err)
	}

	c.Services, err = buildServices(cfg, reg, counterRepo, health, c.Gateways, c.Events, o, logger)
	if err != nil {
		return c, err
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition: publishers first, the store last.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) openRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, *pfirestore.Provider, error) {
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, provider, nil
	case config.StorePostgres:
		reg, err := postgres.NewRegistry(ctx, postgres.Options{
			DSN:      cfg.Postgres.DSN,
			MaxConns: int32(cfg.Postgres.MaxConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build postgres registry: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := reg.Migrate(ctx); err != nil {
				_ = reg.Close(ctx)
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return reg, nil, nil
	case config.StoreMemory, "":
		return memory.NewRegistry(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (c *Container) openEvents(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.EventPublisher, *pubsub.Topic, error) {
	switch cfg.Events.Backend {
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSubProject)
		if err != nil {
			return nil, nil, fmt.Errorf("connect pubsub: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		c.closers = append(c.closers, func(context.Context) error {
			publisher.Stop()
			return client.Close()
		})
		return publisher, topic, nil
	case config.EventsKafka:
		publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Events.KafkaBrokers,
			Topic:    cfg.Events.KafkaTopic,
			ClientID: "orderflow-api",
			Breaker: gobreaker.Settings{
				Name:    "kafka-events",
				Timeout: 30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
			},
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, func(context.Context) error {
			publisher.Close()
			return nil
		})
		return publisher, nil, nil
	default:
		return events.Noop{}, nil, nil
	}
}

func buildGateways(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)
	if cfg.PSP.StripeAPIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe gateway: %w", err)
		}
		providers[payments.StripeProviderKey] = stripe
	}
	var opts []payments.ManagerOption
	if cfg.PSP.ManualSecret != "" {
		manual, err := payments.NewManualProvider(cfg.PSP.ManualSecret)
		if err != nil {
			return nil, fmt.Errorf("build manual gateway: %w", err)
		}
		providers[payments.ManualProviderKey] = manual
		if cfg.PSP.StripeAPIKey == "" {
			opts = append(opts, payments.WithDefaultProvider(payments.ManualProviderKey))
		}
	}
	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build payment gateways: %w", err)
	}
	return manager, nil
}

func buildServices(
	cfg config.Config,
	reg repositories.Registry,
	counterRepo repositories.CounterRepository,
	health repositories.HealthRepository,
	gateways *payments.Manager,
	publisher services.EventPublisher,
	o options,
	logger *zap.Logger,
) (Services, error) {
	var svc Services
	logEvent := observability.EventLogger(logger.Named("services"))

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Stock:    reg.Stock(),
		Clock:    o.clock,
		Logger:   logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	discounts, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts: reg.Discounts(),
		Clock:     o.clock,
		Logger:    logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discounts

	stock, err := services.NewStockLedger(services.StockLedgerDeps{
		Stock:  reg.Stock(),
		Events: publisher,
		Clock:  o.clock,
		Logger: logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}
	svc.Stock = stock

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository:  counterRepo,
		Clock:       o.clock,
		OrderPrefix: cfg.Orders.NumberPrefix,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counters

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Stock:      stock,
		Counters:   counters,
		UnitOfWork: reg,
		Clock:      o.clock,
		Events:     publisher,
		Logger:     logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:   reg.Payments(),
		Orders:     orders,
		Gateway:    gateways,
		UnitOfWork: reg,
		Clock:      o.clock,
		Events:     publisher,
		Logger:     logEvent,
		MaxRetries: cfg.Payments.MaxRetries,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog:    catalog,
		Discounts:  discounts,
		Stock:      stock,
		Orders:     orders,
		Payments:   paymentSvc,
		UnitOfWork: reg,
		Pricing: services.PricingPolicy{
			TaxPercentage:         cfg.Pricing.TaxPercentage,
			ShippingFee:           cfg.Pricing.ShippingFee,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			Currency:              cfg.Pricing.Currency,
		},
		StrictDiscounts: cfg.Orders.RejectInvalidDiscounts,
		Clock:           o.clock,
		Logger:          logEvent,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            o.clock,
		Build:            o.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}
