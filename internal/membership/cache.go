// Package membership resolves which company SIRETs a user acts for. The
// resolution backs every contributor/authorization check, so reads go through
// a bounded-TTL redis cache with explicit invalidation on membership change.
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Loader fetches a user's SIRETs from the authoritative store.
type Loader interface {
	SiretsOf(ctx context.Context, userID string) ([]string, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, userID string) ([]string, error)

// SiretsOf implements Loader.
func (f LoaderFunc) SiretsOf(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

// Cache is a read-through cache of user -> SIRET memberships.
type Cache struct {
	client *redis.Client
	loader Loader
	ttl    time.Duration
}

// NewCache constructs a Cache. A zero ttl defaults to 10 minutes.
func NewCache(client *redis.Client, loader Loader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, loader: loader, ttl: ttl}
}

func key(userID string) string {
	return "membership:user:" + userID + ":sirets"
}

// SiretsOf returns the user's SIRETs, reading through to the loader on miss.
// A redis failure degrades to a direct load rather than failing the caller.
func (c *Cache) SiretsOf(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errors.New("membership: user id required")
	}

	if c.client != nil {
		raw, err := c.client.Get(ctx, key(userID)).Result()
		if err == nil {
			var sirets []string
			if jsonErr := json.Unmarshal([]byte(raw), &sirets); jsonErr == nil {
				return sirets, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			// fall through to the loader; the cache is an optimization
			_ = err
		}
	}

	sirets, err := c.loader.SiretsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("membership: load: %w", err)
	}

	if c.client != nil {
		if raw, err := json.Marshal(sirets); err == nil {
			_ = c.client.Set(ctx, key(userID), raw, c.ttl).Err()
		}
	}
	return sirets, nil
}

// Invalidate drops the cached memberships for a user. Called when the user
// joins or leaves a company.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, key(userID)).Err()
}

// ActsFor reports whether the user is a member of the given SIRET.
func (c *Cache) ActsFor(ctx context.Context, userID, siret string) (bool, error) {
	sirets, err := c.SiretsOf(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, s := range sirets {
		if s == siret {
			return true, nil
		}
	}
	return false, nil
}
