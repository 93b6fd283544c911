package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saffronlab/loom/internal/domain"
)

const (
	redisKeyPrefix = "project:"
	redisIndexKey  = "projects:index"
)

// RedisBackend keeps each project record as a JSON value under a key
// prefix, with a set index for listing.
type RedisBackend struct {
	client *redis.Client
}

type redisRecord struct {
	Raw       json.RawMessage `json:"raw"`
	UpdatedAt int64           `json:"updated_at"`
}

// NewRedisBackend connects and pings; a backend that cannot be reached at
// startup is a configuration error, not a runtime one.
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) key(id domain.RoomID) string {
	return redisKeyPrefix + string(id)
}

func (b *RedisBackend) Get(ctx context.Context, id domain.RoomID) (*Record, error) {
	val, err := b.client.Get(ctx, b.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	var rec redisRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}
	return &Record{Raw: rec.Raw, UpdatedAt: rec.UpdatedAt}, nil
}

func (b *RedisBackend) Put(ctx context.Context, id domain.RoomID, rec Record) error {
	val, err := json.Marshal(redisRecord{Raw: rec.Raw, UpdatedAt: rec.UpdatedAt})
	if err != nil {
		return fmt.Errorf("encode project %s: %w", id, err)
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(id), val, 0)
	pipe.SAdd(ctx, redisIndexKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put project %s: %w", id, err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context) ([]Summary, error) {
	ids, err := b.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		rec, err := b.Get(ctx, domain.RoomID(id))
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, Summary{ID: domain.RoomID(id), UpdatedAt: rec.UpdatedAt, Bytes: len(rec.Raw)})
	}
	return out, nil
}

func (b *RedisBackend) Delete(ctx context.Context, id domain.RoomID) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key(id))
	pipe.SRem(ctx, redisIndexKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
