package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultGuardPrefix = "rider:ride-request:"

// RequestGuard suppresses duplicate ride requests to the same driver.
type RequestGuard interface {
	Acquire(ctx context.Context, passengerID, driverID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, passengerID, driverID string) error
}

func guardKey(prefix, passengerID, driverID string) string {
	return prefix + passengerID + ":" + driverID
}

// RedisRequestGuard relies on SET NX with a TTL so a crashed engine never
// leaves a permanent lock behind.
type RedisRequestGuard struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisRequestGuard constructs the guard.
func NewRedisRequestGuard(client redis.Cmdable, prefix string) *RedisRequestGuard {
	if prefix == "" {
		prefix = defaultGuardPrefix
	}
	return &RedisRequestGuard{client: client, keyPrefix: prefix}
}

// Acquire attempts to take the request slot using SET NX PX.
func (g *RedisRequestGuard) Acquire(ctx context.Context, passengerID, driverID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	ok, err := g.client.SetNX(ctx, guardKey(g.keyPrefix, passengerID, driverID), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release removes the request slot.
func (g *RedisRequestGuard) Release(ctx context.Context, passengerID, driverID string) error {
	if err := g.client.Del(ctx, guardKey(g.keyPrefix, passengerID, driverID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MemoryRequestGuard is the in-process guard used when Redis is not configured.
type MemoryRequestGuard struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryRequestGuard constructs the guard.
func NewMemoryRequestGuard() *MemoryRequestGuard {
	return &MemoryRequestGuard{expires: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryRequestGuard) Acquire(_ context.Context, passengerID, driverID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := guardKey("", passengerID, driverID)
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, exp := range g.expires {
		if !now.Before(exp) {
			delete(g.expires, k)
		}
	}
	if _, ok := g.expires[key]; ok {
		return false, nil
	}
	g.expires[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryRequestGuard) Release(_ context.Context, passengerID, driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.expires, guardKey("", passengerID, driverID))
	return nil
}
