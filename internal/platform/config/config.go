package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultStoreBackend        = StoreMemory
	defaultPostgresMaxConns    = 10
	defaultRedisPrefix         = "orderflow:"
	defaultEventsBackend       = EventsNone
	defaultPubSubTopic         = "orderflow-events"
	defaultKafkaTopic          = "orderflow.events"
	defaultAuthLeeway          = 30 * time.Second
	defaultManualClockSkew     = 5 * time.Minute
	defaultTaxPercentage       = "0"
	defaultShippingFee         = "0"
	defaultFreeShipping        = "0"
	defaultCurrency            = "USD"
	defaultOrderPrefix         = "ORD"
	defaultCounterBackend      = CounterStore
	defaultPaymentMaxRetries   = 3
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultIdempotencyBatch    = 200
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
)

// Event publisher backends.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
	EventsKafka  = "kafka"
)

// Order counter backends. CounterStore uses the configured store's counters.
const (
	CounterStore = "store"
	CounterRedis = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	PSP         PSPConfig
	Events      EventsConfig
	Auth        AuthConfig
	Pricing     PricingConfig
	Orders      OrdersConfig
	Payments    PaymentsConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig picks the repository registry.
type StoreConfig struct {
	Backend string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

type PostgresConfig struct {
	DSN      string
	MaxConns int
	// Migrate applies the embedded schema on startup.
	Migrate bool
}

// RedisConfig is optional; an empty Addr disables every Redis-backed component.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	// ManualSecret signs offline payment proofs verified by the manual gateway.
	ManualSecret string
	// CallbackSecret guards the signed manual confirmation webhook.
	CallbackSecret string
	CallbackSkew   time.Duration
}

type EventsConfig struct {
	Backend       string
	PubSubProject string
	PubSubTopic   string
	KafkaBrokers  []string
	KafkaTopic    string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

type PricingConfig struct {
	TaxPercentage         decimal.Decimal
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	Currency              string
}

type OrdersConfig struct {
	NumberPrefix   string
	CounterBackend string
	// RejectInvalidDiscounts fails checkout on a rejected code instead of pricing without it.
	RejectInvalidDiscounts bool
}

type PaymentsConfig struct {
	MaxRetries int
}

// IdempotencyConfig controls idempotency key handling.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function into a SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load assembles the configuration from defaults, the .env file, the environment and secret
// references. Precedence is .env < OS env < WithEnvMap.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	p := parser{lookup: lookup}
	cfg := Config{
		Server: ServerConfig{
			Port:            p.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     p.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    p.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     p.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: p.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(p.str("API_STORE_BACKEND", defaultStoreBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    p.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: p.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:      p.str("API_POSTGRES_DSN", ""),
			MaxConns: p.integer("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			Migrate:  p.boolean("API_POSTGRES_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:      p.str("API_REDIS_ADDR", ""),
			Password:  p.str("API_REDIS_PASSWORD", ""),
			DB:        p.integer("API_REDIS_DB", 0),
			KeyPrefix: p.str("API_REDIS_KEY_PREFIX", defaultRedisPrefix),
		},
		PSP: PSPConfig{
			StripeAPIKey:        p.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: p.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			ManualSecret:        p.str("API_PSP_MANUAL_SECRET", ""),
			CallbackSecret:      p.str("API_PSP_MANUAL_CALLBACK_SECRET", ""),
			CallbackSkew:        p.duration("API_PSP_MANUAL_CALLBACK_SKEW", defaultManualClockSkew),
		},
		Events: EventsConfig{
			Backend:       strings.ToLower(p.str("API_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubProject: p.str("API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:   p.str("API_EVENTS_PUBSUB_TOPIC", defaultPubSubTopic),
			KafkaBrokers:  p.csv("API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:    p.str("API_EVENTS_KAFKA_TOPIC", defaultKafkaTopic),
		},
		Auth: AuthConfig{
			JWTSecret: p.str("API_AUTH_JWT_SECRET", ""),
			Issuer:    p.str("API_AUTH_ISSUER", ""),
			Audience:  p.str("API_AUTH_AUDIENCE", ""),
			Leeway:    p.duration("API_AUTH_LEEWAY", defaultAuthLeeway),
		},
		Pricing: PricingConfig{
			TaxPercentage:         p.decimal("API_PRICING_TAX_PERCENTAGE", defaultTaxPercentage),
			ShippingFee:           p.decimal("API_PRICING_SHIPPING_FEE", defaultShippingFee),
			FreeShippingThreshold: p.decimal("API_PRICING_FREE_SHIPPING_THRESHOLD", defaultFreeShipping),
			Currency:              strings.ToUpper(p.str("API_PRICING_CURRENCY", defaultCurrency)),
		},
		Orders: OrdersConfig{
			NumberPrefix:           p.str("API_ORDERS_NUMBER_PREFIX", defaultOrderPrefix),
			CounterBackend:         strings.ToLower(p.str("API_ORDERS_COUNTER_BACKEND", defaultCounterBackend)),
			RejectInvalidDiscounts: p.boolean("API_ORDERS_REJECT_INVALID_DISCOUNTS", false),
		},
		Payments: PaymentsConfig{
			MaxRetries: p.integer("API_PAYMENTS_MAX_RETRIES", defaultPaymentMaxRetries),
		},
		Idempotency: IdempotencyConfig{
			Header:           p.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              p.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  p.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: p.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
	}

	if cfg.Events.PubSubProject == "" {
		cfg.Events.PubSubProject = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Postgres.DSN,
		&cfg.Redis.Password,
		&cfg.PSP.StripeAPIKey,
		&cfg.PSP.StripeWebhookSecret,
		&cfg.PSP.ManualSecret,
		&cfg.PSP.CallbackSecret,
		&cfg.Auth.JWTSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	fields := p.invalid
	fields = append(fields, validateConfig(cfg)...)
	if len(fields) > 0 {
		return Config{}, &ValidationError{fields: fields}
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) []string {
	var invalid []string
	add := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	add(cfg.Server.Port != "", "Server.Port")

	switch cfg.Store.Backend {
	case StoreMemory:
	case StoreFirestore:
		add(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StorePostgres:
		add(cfg.Postgres.DSN != "", "Postgres.DSN")
		add(cfg.Postgres.MaxConns > 0, "Postgres.MaxConns")
	default:
		invalid = append(invalid, "Store.Backend")
	}

	switch cfg.Events.Backend {
	case EventsNone:
	case EventsPubSub:
		add(cfg.Events.PubSubProject != "", "Events.PubSubProject")
		add(cfg.Events.PubSubTopic != "", "Events.PubSubTopic")
	case EventsKafka:
		add(len(cfg.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		add(cfg.Events.KafkaTopic != "", "Events.KafkaTopic")
	default:
		invalid = append(invalid, "Events.Backend")
	}

	add(strings.TrimSpace(cfg.Auth.JWTSecret) != "", "Auth.JWTSecret")
	add(cfg.PSP.StripeAPIKey != "" || cfg.PSP.ManualSecret != "", "PSP")
	add(!cfg.Pricing.TaxPercentage.IsNegative() && cfg.Pricing.TaxPercentage.LessThanOrEqual(decimal.NewFromInt(100)), "Pricing.TaxPercentage")
	add(!cfg.Pricing.ShippingFee.IsNegative(), "Pricing.ShippingFee")
	add(!cfg.Pricing.FreeShippingThreshold.IsNegative(), "Pricing.FreeShippingThreshold")
	add(len(cfg.Pricing.Currency) == 3, "Pricing.Currency")
	add(strings.TrimSpace(cfg.Orders.NumberPrefix) != "", "Orders.NumberPrefix")

	switch cfg.Orders.CounterBackend {
	case CounterStore:
	case CounterRedis:
		add(cfg.Redis.Enabled(), "Redis.Addr")
	default:
		invalid = append(invalid, "Orders.CounterBackend")
	}

	add(cfg.Payments.MaxRetries > 0, "Payments.MaxRetries")
	add(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	add(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	add(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	add(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	return invalid
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// parser reads typed values and records keys whose values could not be parsed.
type parser struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (p *parser) raw(key string) (string, bool) {
	value, ok := p.lookup(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (p *parser) str(key, fallback string) string {
	if value, ok := p.raw(key); ok {
		return value
	}
	return fallback
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return parsed
}

func (p *parser) boolean(key string, fallback bool) bool {
	value, ok := p.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	p.invalid = append(p.invalid, key)
	return fallback
}

func (p *parser) decimal(key, fallback string) decimal.Decimal {
	value := p.str(key, fallback)
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return decimal.RequireFromString(fallback)
	}
	return parsed
}

func (p *parser) csv(key string) []string {
	value, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
