package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

type cachedStatus struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps the latest known status per order for fast reads.
type StatusCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (orders.Status, bool, error) {
	raw, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get status cache: %w", err)
	}
	var cs cachedStatus
	if err := json.Unmarshal(raw, &cs); err != nil {
		return "", false, fmt.Errorf("decode status cache: %w", err)
	}
	return cs.Status, true, nil
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error {
	b, err := json.Marshal(cachedStatus{Status: status, UpdatedAt: at.UTC()})
	if err != nil {
		return err
	}
	if err := c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, c.ttl()).Err(); err != nil {
		return fmt.Errorf("set status cache: %w", err)
	}
	return nil
}

func (c *StatusCache) ttl() time.Duration {
	if c.TTL <= 0 {
		return TTLStatusCache
	}
	return c.TTL
}

// Idempotency stores the response of a create-order request under the
// client-supplied key. A key is claimed before the request runs; until a
// response is stored, Get returns an empty body for it.
type Idempotency struct {
	RDB *redis.Client
}

// Claim reserves key for the caller. It reports false when the key is already
// claimed or answered.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := i.RDB.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), "", TTLIdempotencyClaim).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

func (i *Idempotency) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency key: %w", err)
	}
	return b, true, nil
}

func (i *Idempotency) Put(ctx context.Context, key string, response []byte) error {
	if err := i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), response, TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// Release drops a claim whose request left nothing behind, so the key can be
// used again.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	if err := i.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Dedup remembers processed event ids per consuming service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// FirstSeen marks id as processed and reports whether this call was the
// first to do so.
func (d *Dedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), 1, TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", id, err)
	}
	return ok, nil
}

// Forget drops the mark so a failed event can be processed again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
