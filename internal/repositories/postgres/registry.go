// Package postgres implements the repositories on PostgreSQL through pgxpool. A unit of work
// is one real transaction; every repository call made with its context joins it.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanko-field/orderflow/internal/repositories"
)

//go:embed schema.sql
var schema string

const defaultPingTimeout = 6 * time.Second

// Options tunes the connection pool.
type Options struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Registry wires the Postgres repositories to one pool.
type Registry struct {
	*UnitOfWork

	pool      *pgxpool.Pool
	products  *ProductRepository
	stock     *StockRepository
	orders    *OrderRepository
	payments  *PaymentRepository
	discounts *DiscountRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry opens the pool and verifies connectivity.
func NewRegistry(ctx context.Context, opts Options) (*Registry, error) {
	if opts.DSN == "" {
		return nil, errors.New("postgres registry: dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres registry: parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres registry: open pool: %w", err)
	}
	reg := newRegistry(pool)
	if err := reg.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return reg, nil
}

func newRegistry(pool *pgxpool.Pool) *Registry {
	base := db{pool: pool}
	return &Registry{
		UnitOfWork: &UnitOfWork{pool: pool},
		pool:       pool,
		products:   &ProductRepository{db: base},
		stock:      &StockRepository{db: base},
		orders:     &OrderRepository{db: base},
		payments:   &PaymentRepository{db: base},
		discounts:  &DiscountRepository{db: base},
		counters:   &CounterRepository{db: base},
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *Registry) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return wrapError("postgres.migrate", err)
	}
	return nil
}

func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := r.pool.Ping(pingCtx); err != nil {
		e := wrapError("postgres.ping", err)
		var repoErr *Error
		if errors.As(e, &repoErr) {
			repoErr.unavailable = true
		}
		return e
	}
	return nil
}

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Stock() repositories.StockRepository        { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository   { return r.payments }
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
