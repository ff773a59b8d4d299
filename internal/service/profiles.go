package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/model"
	registrycache "github.com/chirino/messaging-service/internal/registry/cache"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/chirino/messaging-service/internal/security"
)

// profileResolver reads display profiles through the optional profile cache.
type profileResolver struct {
	store registrystore.MessageStore
	cache registrycache.ProfileCache
	ttl   time.Duration
}

func (p *profileResolver) lookup(ctx context.Context, userID string) (model.Profile, error) {
	if p.cache != nil && p.cache.Available() {
		cached, err := p.cache.Get(ctx, userID)
		if err != nil {
			log.Warn("Profile cache read failed", "userId", userID, "err", err)
		}
		security.RecordCacheLookup(cached != nil)
		if cached != nil {
			return *cached, nil
		}
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	profile := user.Profile()
	if p.cache != nil && p.cache.Available() {
		if err := p.cache.Set(ctx, profile, p.ttl); err != nil {
			log.Warn("Profile cache write failed", "userId", userID, "err", err)
		}
	}
	return profile, nil
}
