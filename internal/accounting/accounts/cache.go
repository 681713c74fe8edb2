package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "accounts:version"

// CachedLookup caches account-by-code reads in Redis. Entries are versioned
// and time-boxed; Invalidate bumps the version so every cached row is dropped
// at once. Ledger writes never read through this cache.
type CachedLookup struct {
	source Repository
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedLookup wraps source. A nil client disables caching.
func NewCachedLookup(source Repository, client *redis.Client, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedLookup{source: source, client: client, ttl: ttl}
}

// GetByCode returns the account for code, loading from the source on miss.
func (c *CachedLookup) GetByCode(ctx context.Context, code string) (Account, error) {
	if c.client == nil {
		return c.source.GetByCode(ctx, code)
	}
	version, err := c.version(ctx)
	if err != nil {
		return c.source.GetByCode(ctx, code)
	}
	key := fmt.Sprintf("accounts:code:%s:%d", code, version)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var acc Account
		if json.Unmarshal(raw, &acc) == nil {
			return acc, nil
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		acc, err := c.source.GetByCode(ctx, code)
		if err != nil {
			return Account{}, err
		}
		if raw, err := json.Marshal(acc); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return acc, nil
	})
	if err != nil {
		return Account{}, err
	}
	return v.(Account), nil
}

// Invalidate drops every cached account.
func (c *CachedLookup) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *CachedLookup) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return ver, err
}
