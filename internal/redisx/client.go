package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Dedup remembers ids under one namespace for a fixed TTL.
type Dedup struct {
	rdb    *redis.Client
	format string
	scope  string
	ttl    time.Duration
}

// NewWebhookDedup tracks payment transaction ids whose callback was settled.
func NewWebhookDedup(rdb *redis.Client) *Dedup {
	return &Dedup{rdb: rdb, format: KeyWebhookDone, ttl: TTLWebhookDone}
}

// NewEventDedup tracks event ids already handled by one consumer service.
func NewEventDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, format: KeyDedup, scope: service, ttl: TTLDedup}
}

func (d *Dedup) key(id string) string {
	if d.scope != "" {
		return fmt.Sprintf(d.format, d.scope, id)
	}
	return fmt.Sprintf(d.format, id)
}

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, d.key(id), "1", d.ttl).Err()
}

// setOrderScript stores an order unless a newer version was already
// invalidated. KEYS: order, fence. ARGV: json, version, ttl ms.
var setOrderScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < fence then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// invalidateOrderScript raises the fence and drops the entry.
// KEYS: order, fence. ARGV: version, fence ttl ms.
var invalidateOrderScript = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > fence then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// OrderCache is a read-through cache for GET /orders/{id}. Every status
// change drops the entry and fences off writes of older versions, so a read
// that raced the change cannot put the old order back.
type OrderCache struct {
	rdb      *redis.Client
	ttl      time.Duration
	fenceTTL time.Duration
}

func NewOrderCache(rdb *redis.Client) *OrderCache {
	return &OrderCache{rdb: rdb, ttl: TTLOrderCache, fenceTTL: TTLOrderFence}
}

func orderKeys(id string) []string {
	return []string{fmt.Sprintf(KeyOrder, id), fmt.Sprintf(KeyOrderFence, id)}
}

// Get reports ok=false on a miss.
func (c *OrderCache) Get(ctx context.Context, id string) (domain.Order, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	var o domain.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return domain.Order{}, false, fmt.Errorf("decode cached order %s: %w", id, err)
	}
	return o, true, nil
}

// Set is a no-op when o is older than the last invalidated version.
func (c *OrderCache) Set(ctx context.Context, o domain.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return setOrderScript.Run(ctx, c.rdb, orderKeys(o.ID), b, o.Version, c.ttl.Milliseconds()).Err()
}

// Invalidate drops the entry; version is the order's version after the change.
func (c *OrderCache) Invalidate(ctx context.Context, id string, version int) error {
	return invalidateOrderScript.Run(ctx, c.rdb, orderKeys(id), version, c.fenceTTL.Milliseconds()).Err()
}
