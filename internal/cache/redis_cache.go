package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var (
	_ MessageCache = (*RedisCache)(nil)
	_ FileCache    = (*RedisCache)(nil)
)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	GatewayMessageID string    `json:"gatewayMessageId"`
	SentAt           time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreSent(ctx context.Context, internalID int64, gatewayMessageID string, sentAt time.Time) error {
	key := fmt.Sprintf("msg:%d", internalID)
	val := sentValue{
		GatewayMessageID: gatewayMessageID,
		SentAt:           sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

func (c *RedisCache) LookupFile(ctx context.Context, ref string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, fileKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *RedisCache) StoreFile(ctx context.Context, ref, fileID string) error {
	return c.rdb.Set(ctx, fileKey(ref), fileID, c.ttl).Err()
}

func (c *RedisCache) ForgetFile(ctx context.Context, ref string) error {
	return c.rdb.Del(ctx, fileKey(ref)).Err()
}

func fileKey(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "file:" + hex.EncodeToString(sum[:])
}
