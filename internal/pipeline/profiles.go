package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rcliao/contextai/internal/cache"
	"github.com/rcliao/contextai/internal/model"
	"github.com/rcliao/contextai/internal/store"
)

type profileFinder interface {
	FindByID(ctx context.Context, id string) (*model.CustomerProfile, error)
}

// profileSource reads profiles through the profiles cache tier.
type profileSource struct {
	store  profileFinder
	cache  *cache.Cache[*model.CustomerProfile]
	logger *zap.Logger
}

// FindByID returns a private copy of the profile.
func (p *profileSource) FindByID(ctx context.Context, id string) (*model.CustomerProfile, error) {
	if cached, ok := p.cache.Get(id); ok {
		return cached.Clone(), nil
	}
	if p.store == nil {
		return nil, store.ErrNotFound
	}
	prof, err := p.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.cache.Set(id, prof.Clone())
	return prof, nil
}

// get treats lookup errors as a missing profile.
func (p *profileSource) get(ctx context.Context, id string) *model.CustomerProfile {
	prof, err := p.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("profile lookup failed", zap.String("customer_id", id), zap.Error(err))
		}
		return nil
	}
	return prof
}

func (p *profileSource) invalidate(id string) {
	p.cache.Delete(id)
}
