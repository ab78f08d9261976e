package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"midistore/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	midiCacheTTL  = 10 * time.Minute
	salesRankKey  = "midi:sales"
	midiKeyPrefix = "midi:item:"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetMidi retrieves a cached catalog item. Returns nil, nil on cache miss.
func (c *Client) GetMidi(ctx context.Context, id string) (*models.Midi, error) {
	data, err := c.rdb.Get(ctx, midiKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var midi models.Midi
	if err := json.Unmarshal(data, &midi); err != nil {
		return nil, fmt.Errorf("failed to decode cached midi: %w", err)
	}
	return &midi, nil
}

// SetMidi caches a catalog item with a TTL
func (c *Client) SetMidi(ctx context.Context, midi *models.Midi) error {
	data, err := json.Marshal(midi)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, midiKeyPrefix+midi.ID, data, midiCacheTTL).Err()
}

// DeleteMidi evicts a catalog item from the cache
func (c *Client) DeleteMidi(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, midiKeyPrefix+id).Err()
}

// BumpSales increments an item's score in the bestseller ranking. ZINCRBY
// is atomic, so concurrent bumps for the same item never lose updates.
func (c *Client) BumpSales(ctx context.Context, id string, delta int64) error {
	return c.rdb.ZIncrBy(ctx, salesRankKey, float64(delta), id).Err()
}

// TopSellers returns the IDs of the highest-ranked items, best first.
func (c *Client) TopSellers(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return c.rdb.ZRevRange(ctx, salesRankKey, 0, int64(n-1)).Result()
}
