package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps the rule table as one JSON document under a single key,
// the same document the file backend writes.
type RedisStorage struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStorage returns a Storage backed by key on client.
func NewRedisStorage(client redis.UniversalClient, key string) *RedisStorage {
	return &RedisStorage{client: client, key: key}
}

// ConnectRedis creates a client for addr and verifies it with a PING.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}

// Load reads the document. A missing key is created holding an empty object.
func (rs *RedisStorage) Load(ctx context.Context) (map[int]Rule, []string, error) {
	data, err := rs.client.Get(ctx, rs.key).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := rs.client.SetNX(ctx, rs.key, "{}", 0).Err(); err != nil {
			return map[int]Rule{}, nil, fmt.Errorf("init %s: %w", rs.key, err)
		}
		return map[int]Rule{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get %s: %w", rs.key, err)
	}
	table, skipped, err := decodeTable(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", rs.key, err)
	}
	return table, skipped, nil
}

// Save overwrites the document.
func (rs *RedisStorage) Save(ctx context.Context, table map[int]Rule) error {
	data, err := encodeTable(table)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", rs.key, err)
	}
	return nil
}
