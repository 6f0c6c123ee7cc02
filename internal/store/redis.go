package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis: documents are JSON strings at their
// path, keyed collections are hashes keyed by their path. This is the
// primary backend; it mirrors the hosted realtime store's single-path
// semantics exactly, including the absence of cross-path atomicity.
type RedisStore struct {
	client *redis.Client
}

// transaction retry budget for contended per-path read-modify-writes
const txnAttempts = 64

// NewRedisStore connects to Redis at the given URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, path string, dest any) error {
	segments := split(path)
	var raw string
	var err error
	switch len(segments) {
	case 4:
		raw, err = s.client.HGet(ctx, Join(segments[:3]...), segments[3]).Result()
	default:
		raw, err = s.client.Get(ctx, path).Result()
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	segments := split(path)
	switch len(segments) {
	case 4:
		err = s.client.HSet(ctx, Join(segments[:3]...), segments[3], raw).Err()
	default:
		err = s.client.Set(ctx, path, raw, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.Transaction(ctx, path, func(current json.RawMessage) (any, error) {
		doc := make(map[string]any)
		if current != nil {
			if err := json.Unmarshal(current, &doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
		for k, v := range fields {
			doc[k] = v
		}
		return doc, nil
	})
}

func (s *RedisStore) Remove(ctx context.Context, path string) error {
	segments := split(path)
	if len(segments) == 4 {
		if err := s.client.HDel(ctx, Join(segments[:3]...), segments[3]).Err(); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		return nil
	}

	keys := []string{path}
	iter := s.client.Scan(ctx, 0, path+"/*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Push(path string) string {
	return NewPushKey()
}

func (s *RedisStore) Transaction(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	txn := func(tx *redis.Tx) error {
		var current json.RawMessage
		raw, err := tx.Get(ctx, path).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			current = json.RawMessage(raw)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, path, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < txnAttempts; i++ {
		err := s.client.Watch(ctx, txn, path)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("transaction %s: %w", path, err)
	}
	return fmt.Errorf("transaction %s: too much contention", path)
}

func (s *RedisStore) Children(ctx context.Context, path string) ([]Entry, error) {
	raw, err := s.client.HGetAll(ctx, path).Result()
	if err != nil {
		return nil, fmt.Errorf("children %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(raw))
	for key, value := range raw {
		entries = append(entries, Entry{Key: key, Value: json.RawMessage(value)})
	}
	sortEntries(entries, "")
	return entries, nil
}

func (s *RedisStore) QueryChildren(ctx context.Context, path string, q Query) ([]Entry, error) {
	entries, err := s.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	return applyQuery(entries, q)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
