package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relwatch/internal/domain"
)

const redisKeyPrefix = "relwatch:version_cache:"

// redisKeyTTL держит ключи заметно дольше любого разумного TTL политики:
// решение о свежести принимает CacheEntry.Fresh, а не Redis.
const redisKeyTTL = 24 * time.Hour

// Redis реализует domain.VersionCache поверх Redis для развёртываний,
// где кэш делят несколько процессов.
type Redis struct {
	client *redis.Client
}

var _ domain.VersionCache = (*Redis)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Entry возвращает запись по пакету.
func (c *Redis) Entry(itemID string) (domain.CacheEntry, bool, error) {
	data, err := c.client.Get(context.Background(), redisKeyPrefix+itemID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CacheEntry{}, false, nil
		}
		return domain.CacheEntry{}, false, err
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("декодирование записи кэша: %w", err)
	}
	return entry, true, nil
}

// Put безусловно перезаписывает запись.
func (c *Redis) Put(itemID string, entry domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("кодирование записи кэша: %w", err)
	}
	return c.client.Set(context.Background(), redisKeyPrefix+itemID, data, redisKeyTTL).Err()
}

// Invalidate удаляет запись пакета.
func (c *Redis) Invalidate(itemID string) error {
	return c.client.Del(context.Background(), redisKeyPrefix+itemID).Err()
}

// Reset удаляет все записи кэша.
func (c *Redis) Reset() error {
	ctx := context.Background()
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
