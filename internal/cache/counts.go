// Package cache holds the Redis read-through cache for vote counters.
// The cache is strictly an accelerator: every ledger mutation invalidates
// the key, so a miss always falls through to the store of record.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/basement-chat/basement/shared/config"
	"github.com/basement-chat/basement/shared/domain"
)

const countsKeyPrefix = "votes:counts:"

type Counts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCounts(cfg *config.Redis) (*Counts, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Counts{client: client, ttl: ttl}, nil
}

func countsKey(post domain.PostId) string {
	return fmt.Sprintf("%s%d", countsKeyPrefix, post)
}

// Get returns the cached counts and whether the key was present.
func (c *Counts) Get(ctx context.Context, post domain.PostId) (domain.VoteCounts, bool, error) {
	var counts domain.VoteCounts
	raw, err := c.client.Get(ctx, countsKey(post)).Bytes()
	if err == redis.Nil {
		return counts, false, nil
	}
	if err != nil {
		return counts, false, err
	}
	if err := json.Unmarshal(raw, &counts); err != nil {
		return counts, false, err
	}
	return counts, true, nil
}

func (c *Counts) Set(ctx context.Context, post domain.PostId, counts domain.VoteCounts) error {
	raw, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, countsKey(post), raw, c.ttl).Err()
}

// Invalidate drops the cached counts. Called in the same code path as every
// ledger mutation so readers never see stale counters for longer than one
// round trip.
func (c *Counts) Invalidate(ctx context.Context, post domain.PostId) error {
	return c.client.Del(ctx, countsKey(post)).Err()
}

func (c *Counts) Close() error {
	return c.client.Close()
}
