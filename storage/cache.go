package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"retro-api/domain"
)

type backend interface {
	CreateItem(ctx context.Context, item *domain.FeedbackItem) error
	GetItem(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error)
	ListItems(ctx context.Context, boardID string) ([]domain.FeedbackItem, error)
	UpdateItem(ctx context.Context, item *domain.FeedbackItem) error
	DeleteItem(ctx context.Context, boardID, itemID string) error
	EnqueueEvents(ctx context.Context, events []domain.BoardEvent) error
}

// Cache wraps a Store with Redis-backed caching of board listings. Every
// write to a board evicts that board's listing so readers never observe an
// item the store no longer holds.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client
// and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

func (c *Cache) CreateItem(ctx context.Context, item *domain.FeedbackItem) error {
	if err := c.base.CreateItem(ctx, item); err != nil {
		return err
	}
	c.evict(ctx, item.BoardID)
	return nil
}

func (c *Cache) GetItem(ctx context.Context, boardID, itemID string) (*domain.FeedbackItem, error) {
	return c.base.GetItem(ctx, boardID, itemID)
}

func (c *Cache) ListItems(ctx context.Context, boardID string) ([]domain.FeedbackItem, error) {
	if items, ok := c.loadFromCache(ctx, boardID); ok {
		return items, nil
	}

	items, err := c.base.ListItems(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardID, items)
	return items, nil
}

func (c *Cache) UpdateItem(ctx context.Context, item *domain.FeedbackItem) error {
	if err := c.base.UpdateItem(ctx, item); err != nil {
		return err
	}
	c.evict(ctx, item.BoardID)
	return nil
}

func (c *Cache) DeleteItem(ctx context.Context, boardID, itemID string) error {
	if err := c.base.DeleteItem(ctx, boardID, itemID); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) EnqueueEvents(ctx context.Context, events []domain.BoardEvent) error {
	return c.base.EnqueueEvents(ctx, events)
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) ([]domain.FeedbackItem, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, itemsCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, itemsCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var items []domain.FeedbackItem
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, itemsCacheKey(boardID)).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) store(ctx context.Context, boardID string, items []domain.FeedbackItem) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, itemsCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, itemsCacheKey(boardID)).Result()
}

func itemsCacheKey(boardID string) string {
	return "items:" + boardID
}
