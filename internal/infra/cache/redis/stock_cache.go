// Package redis mirrors reconciled stock into Redis hashes so read-heavy
// dashboards do not hit the event store.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"tracecore/pkg/domain"
)

// DefaultKeyPrefix namespaces stock hashes.
const DefaultKeyPrefix = "tracecore:stock:"

// Hash fields.
const (
	fieldShipped   = "shipped_quantity"
	fieldAvailable = "available_quantity"
	fieldUpdatedAt = "updated_at"
)

// hashClient is the subset of goredis.Cmdable the cache uses.
type hashClient interface {
	HSet(ctx context.Context, key string, values ...any) *goredis.IntCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
}

// Options configures the connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// StockCache writes computed stock per lot.
type StockCache struct {
	client hashClient
	closer func() error
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ domain.StockCacheWriter = (*StockCache)(nil)

// CachedStock is one lot's cached values.
type CachedStock struct {
	TLC       string
	Shipped   decimal.Decimal
	Available decimal.Decimal
	UpdatedAt time.Time
}

// Open dials Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*StockCache, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	cache := newStockCache(rdb, opts)
	cache.closer = rdb.Close
	return cache, nil
}

func newStockCache(client hashClient, opts Options) *StockCache {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &StockCache{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Key returns the hash key for a lot.
func (c *StockCache) Key(tlc string) string { return c.prefix + tlc }

// WriteStockCache overwrites the lot's hash.
func (c *StockCache) WriteStockCache(ctx context.Context, tlc string, shipped, available decimal.Decimal) error {
	key := c.Key(tlc)
	err := c.client.HSet(ctx, key,
		fieldShipped, shipped.String(),
		fieldAvailable, available.String(),
		fieldUpdatedAt, c.now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return &domain.StoreError{Op: "redis hset", Err: err}
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, key, c.ttl).Err(); err != nil {
			return &domain.StoreError{Op: "redis expire", Err: err}
		}
	}
	return nil
}

// Read returns the cached values; ok is false when nothing is cached.
func (c *StockCache) Read(ctx context.Context, tlc string) (stock CachedStock, ok bool, err error) {
	fields, err := c.client.HGetAll(ctx, c.Key(tlc)).Result()
	if err != nil {
		return CachedStock{}, false, &domain.StoreError{Op: "redis hgetall", Err: err}
	}
	if len(fields) == 0 {
		return CachedStock{}, false, nil
	}
	stock.TLC = tlc
	if stock.Shipped, err = decimal.NewFromString(fields[fieldShipped]); err != nil {
		return CachedStock{}, false, fmt.Errorf("decode %s: %w", fieldShipped, err)
	}
	if stock.Available, err = decimal.NewFromString(fields[fieldAvailable]); err != nil {
		return CachedStock{}, false, fmt.Errorf("decode %s: %w", fieldAvailable, err)
	}
	if raw := fields[fieldUpdatedAt]; raw != "" {
		if stock.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return CachedStock{}, false, fmt.Errorf("decode %s: %w", fieldUpdatedAt, err)
		}
	}
	return stock, true, nil
}

// Close releases the client connection.
func (c *StockCache) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}
