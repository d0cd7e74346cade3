package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash used when no key is configured.
const DefaultRedisKey = "persistence:entries"

type redisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a Store that keeps all entries as fields of a single
// Redis hash. Commits run inside MULTI/EXEC so readers never observe half of
// a change set.
func NewRedisStore(client redis.UniversalClient, key string) (Store, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &redisStore{client: client, key: key}, nil
}

func (s *redisStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *redisStore) Load(ctx context.Context, keys ...string) ([]Entry, error) {
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	values, err := s.client.HMGet(ctx, s.key, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		str, ok := values[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		entries = append(entries, Entry{Key: key, Value: []byte(str)})
	}
	return entries, nil
}

func (s *redisStore) Commit(ctx context.Context, cs ChangeSet) error {
	if cs.Empty() {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(cs.Save) > 0 {
			fields := make([]any, 0, 2*len(cs.Save))
			for _, e := range cs.Save {
				fields = append(fields, e.Key, e.Value)
			}
			pipe.HSet(ctx, s.key, fields...)
		}
		if len(cs.Delete) > 0 {
			pipe.HDel(ctx, s.key, cs.Delete...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
