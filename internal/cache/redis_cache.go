package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"medstock/backend/internal/domain"
)

type RedisInventoryCache struct {
	client *redis.Client
}

func NewRedisInventoryCache(addr string, password string, db int) *RedisInventoryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisInventoryCache{client: client}
}

func (c *RedisInventoryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInventoryCache) Close() error {
	return c.client.Close()
}

func (c *RedisInventoryCache) Get(ctx context.Context, day string) ([]domain.InventoryRow, bool, error) {
	val, err := c.client.Get(ctx, InventoryKey(day)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []domain.InventoryRow
	if err := json.Unmarshal([]byte(val), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *RedisInventoryCache) Generation(ctx context.Context) (int64, error) {
	return readGeneration(ctx, c.client)
}

func readGeneration(ctx context.Context, cmd redis.Cmdable) (int64, error) {
	generation, err := cmd.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return generation, err
}

// Set writes rows under WATCH on the generation key, so an InventoryChanged
// from any instance between Generation and Set aborts the write.
func (c *RedisInventoryCache) Set(ctx context.Context, day string, generation int64, rows []domain.InventoryRow, ttl time.Duration) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx)
		if err != nil {
			return err
		}
		if current != generation {
			return ErrStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, InventoryKey(day), payload, ttl)
			return nil
		})
		return err
	}, generationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleGeneration
	}
	return err
}

func (c *RedisInventoryCache) InventoryChanged(ctx context.Context, change domain.InventoryChange) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return err
	}

	keys := make([]string, 0, 4)
	iter := c.client.Scan(ctx, 0, inventoryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}

	if change.Event == "" {
		change.Event = EventInventoryUpdated
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, ChannelInventoryUpdated, payload).Err()
}

// Subscribe delivers inventory changes published by any instance until ctx is
// cancelled. Malformed messages are skipped.
func (c *RedisInventoryCache) Subscribe(ctx context.Context, fn func(domain.InventoryChange)) error {
	sub := c.client.Subscribe(ctx, ChannelInventoryUpdated)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change domain.InventoryChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			fn(change)
		}
	}
}
