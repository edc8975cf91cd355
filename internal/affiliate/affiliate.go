// Package affiliate caches the singleton commission configuration.
package affiliate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"bolao/internal/common/events"
	"bolao/internal/ledger/domain"
)

// Defaults seed the configuration row the first time it is read
type Defaults struct {
	FirstLevelPercent  string `envconfig:"AFFILIATE_FIRST_LEVEL_PERCENT" default:"2"`
	SecondLevelPercent string `envconfig:"AFFILIATE_SECOND_LEVEL_PERCENT" default:"1"`
	FirstBetBonus      string `envconfig:"AFFILIATE_FIRST_BET_BONUS" default:"10"`
}

// Config converts the defaults to a domain configuration
func (d Defaults) Config() (domain.AffiliateConfig, error) {
	var cfg domain.AffiliateConfig
	var err error
	if cfg.FirstLevelPercent, err = decimal.NewFromString(d.FirstLevelPercent); err != nil {
		return cfg, err
	}
	if cfg.SecondLevelPercent, err = decimal.NewFromString(d.SecondLevelPercent); err != nil {
		return cfg, err
	}
	if cfg.FirstBetBonus, err = decimal.NewFromString(d.FirstBetBonus); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Loader reads the configuration from durable storage
type Loader func(ctx context.Context) (*domain.AffiliateConfig, error)

// Cache holds the last configuration read until it is invalidated
type Cache struct {
	mu     sync.RWMutex
	cfg    *domain.AffiliateConfig
	gen    uint64 // bumped by Invalidate so a slow load cannot store a stale value
	logger *slog.Logger
}

// NewCache creates an empty cache
func NewCache(logger *slog.Logger) *Cache {
	return &Cache{logger: logger}
}

// Get returns the cached configuration, calling load on a miss
func (c *Cache) Get(ctx context.Context, load Loader) (*domain.AffiliateConfig, error) {
	c.mu.RLock()
	cfg, gen := c.cfg, c.gen
	c.mu.RUnlock()
	if cfg != nil {
		cp := *cfg
		return &cp, nil
	}

	loaded, err := load(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.cfg == nil && c.gen == gen {
		stored := *loaded
		c.cfg = &stored
	}
	c.mu.Unlock()
	return loaded, nil
}

// Invalidate drops the cached configuration
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cfg = nil
	c.gen++
	c.mu.Unlock()
	c.logger.Info("affiliate config cache invalidated")
}

// HandleEvent invalidates the cache when the configuration is updated
// elsewhere. It matches the nats.Handler signature.
func (c *Cache) HandleEvent(_ context.Context, event *events.Event) error {
	if event.Type == events.EventAffiliateConfigUpdated {
		c.Invalidate()
	}
	return nil
}
