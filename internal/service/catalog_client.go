package service

import (
	"context"

	"midistore/internal/models"
	"midistore/internal/redisclient"
	"midistore/internal/store"
	"midistore/internal/util"

	"go.uber.org/zap"
)

// CatalogClient fronts catalog reads with a Redis cache. The database is
// the source of truth; cache failures degrade to direct lookups.
type CatalogClient struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewCatalogClient creates a new catalog client
func NewCatalogClient(store *store.Store, redis *redisclient.Client) *CatalogClient {
	return &CatalogClient{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// GetMidi resolves a catalog item by id, read-through cached. Returns
// nil, nil when the item does not exist.
func (cc *CatalogClient) GetMidi(ctx context.Context, id string) (*models.Midi, error) {
	cached, err := cc.redis.GetMidi(ctx, id)
	if err != nil {
		cc.logger.Warn("Catalog cache read failed, falling back to DB",
			zap.String("midi_id", id),
			zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	midi, err := cc.store.GetMidiByID(ctx, id)
	if err != nil || midi == nil {
		return midi, err
	}

	if err := cc.redis.SetMidi(ctx, midi); err != nil {
		cc.logger.Warn("Failed to cache catalog item",
			zap.String("midi_id", midi.ID),
			zap.Error(err))
	}
	return midi, nil
}

// IncrementSaleCount bumps the stored sale counter and evicts the cached
// copy so the next read sees the new count.
func (cc *CatalogClient) IncrementSaleCount(ctx context.Context, id string) error {
	if err := cc.store.IncrementSaleCount(ctx, id); err != nil {
		return err
	}

	if err := cc.redis.DeleteMidi(ctx, id); err != nil {
		cc.logger.Warn("Failed to evict cached catalog item",
			zap.String("midi_id", id),
			zap.Error(err))
	}
	return nil
}

// PopularMidis returns the best sellers, preferring the Redis ranking and
// falling back to the stored sale counters when the ranking is empty or
// unavailable.
func (cc *CatalogClient) PopularMidis(ctx context.Context, limit int) ([]models.Midi, error) {
	ids, err := cc.redis.TopSellers(ctx, limit)
	if err != nil {
		cc.logger.Warn("Bestseller ranking unavailable, falling back to DB", zap.Error(err))
		ids = nil
	}

	if len(ids) == 0 {
		return cc.store.TopMidisBySales(ctx, limit)
	}

	midis := make([]models.Midi, 0, len(ids))
	for _, id := range ids {
		midi, err := cc.GetMidi(ctx, id)
		if err != nil {
			return nil, err
		}
		if midi == nil || midi.Hidden {
			continue
		}
		midis = append(midis, *midi)
	}
	return midis, nil
}
