// Package local is an in-process profile cache backed by ristretto.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/model"
	registrycache "github.com/chirino/messaging-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultTTL = 5 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "local",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ProfileCache, error) {
	maxEntries := int64(100_000)
	ttl := defaultTTL
	if cfg := config.FromContext(ctx); cfg != nil {
		if cfg.LocalCacheMaxEntries > 0 {
			maxEntries = cfg.LocalCacheMaxEntries
		}
		if cfg.ProfileCacheTTL > 0 {
			ttl = cfg.ProfileCacheTTL
		}
	}
	return New(maxEntries, ttl)
}

// New creates a cache holding at most maxEntries profiles.
func New(maxEntries int64, ttl time.Duration) (registrycache.ProfileCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, model.Profile]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &localProfileCache{cache: c, ttl: ttl}, nil
}

type localProfileCache struct {
	cache *ristretto.Cache[string, model.Profile]
	ttl   time.Duration
}

func (c *localProfileCache) Available() bool { return true }

func (c *localProfileCache) Get(_ context.Context, userID string) (*model.Profile, error) {
	p, ok := c.cache.Get(userID)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *localProfileCache) Set(_ context.Context, profile model.Profile, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.cache.SetWithTTL(profile.ID, profile, 1, ttl)
	// Sets are buffered; wait so a Get right after Set observes the value.
	c.cache.Wait()
	return nil
}

func (c *localProfileCache) Remove(_ context.Context, userID string) error {
	c.cache.Del(userID)
	return nil
}

var _ registrycache.ProfileCache = (*localProfileCache)(nil)
