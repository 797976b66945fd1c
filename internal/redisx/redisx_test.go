package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container skipped in -short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	rdb := New(fmt.Sprintf("%s:%s", host, port.Port()))
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestDedupKeys(t *testing.T) {
	assert.Equal(t, "webhook:done:tx-1", NewWebhookDedup(nil).key("tx-1"))
	assert.Equal(t, "dedup:notifier:ev-1", NewEventDedup(nil, "notifier").key("ev-1"))
}

func TestDedupSeenMark(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	d := NewEventDedup(rdb, "notifier")

	seen, err := d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "ev-1"))
	seen, err = d.Seen(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := rdb.TTL(ctx, "dedup:notifier:ev-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestOrderCacheRoundTrip(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := NewOrderCache(rdb)

	_, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	o := domain.Order{ID: "o-1", ClientID: "c-1", Status: domain.StatusPending, TotalAmount: decimal.RequireFromString("25000.50"), Version: 1}
	require.NoError(t, c.Set(ctx, o))

	got, ok, err := c.Get(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
	assert.Equal(t, domain.StatusPending, got.Status)

	require.NoError(t, c.Invalidate(ctx, "o-1", 2))
	_, ok, err = c.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderCacheRefusesStaleWrite(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	c := NewOrderCache(rdb)

	stale := domain.Order{ID: "o-2", Status: domain.StatusPending, TotalAmount: decimal.NewFromInt(100), Version: 1}
	fresh := stale
	fresh.Status, fresh.Version = domain.StatusConfirmed, 2

	// read v1, the change to v2 commits and invalidates, then the read writes back
	require.NoError(t, c.Invalidate(ctx, "o-2", 2))
	require.NoError(t, c.Set(ctx, stale))
	_, ok, err := c.Get(ctx, "o-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, fresh))
	got, ok, err := c.Get(ctx, "o-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusConfirmed, got.Status)

	// a lower fence never lowers the existing one
	require.NoError(t, c.Invalidate(ctx, "o-2", 1))
	require.NoError(t, c.Set(ctx, stale))
	_, ok, err = c.Get(ctx, "o-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := rdb.PTTL(ctx, "order:fence:{o-2}").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
