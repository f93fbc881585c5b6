package blob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document in a hash with "data" and "v" fields.
// Check-and-set uses WATCH/MULTI on the key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps client. prefix namespaces every key, e.g. "storefront:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	fields, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	data, ok := fields["data"]
	if !ok {
		return nil, 0, ErrNotFound
	}
	version, err := strconv.ParseInt(fields["v"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("redis get %s: bad version %q", key, fields["v"])
	}
	return []byte(data), version, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, data []byte, expected int64, ttl time.Duration) (int64, error) {
	k := r.key(key)
	var next int64

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, "v").Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if expected != Any && current != expected {
			return ErrVersionMismatch
		}
		next = current + 1

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, "data", data, "v", next)
			if ttl > 0 {
				pipe.PExpire(ctx, k, ttl)
			} else {
				pipe.Persist(ctx, k)
			}
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, k)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrVersionMismatch), errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionMismatch
	default:
		return 0, fmt.Errorf("redis put %s: %w", key, err)
	}
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return keys, nil
}

var _ Store = (*RedisStore)(nil)
