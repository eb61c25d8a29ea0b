package embedding

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"satlegal-backend/models"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores embeddings as little-endian float64 blobs
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redis using a redis:// URL
func NewRedisCache(url, prefix string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), prefix, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, key string) (models.Embedding, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeVector(data)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, key string, value models.Embedding) error {
	return c.client.Set(ctx, c.prefix+key, encodeVector(value), c.ttl).Err()
}

// Close closes the redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeVector(v models.Embedding) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(data []byte) (models.Embedding, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("corrupt cached embedding of %d bytes", len(data))
	}
	v := make(models.Embedding, len(data)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return v, nil
}
