package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisMaxRetries bounds optimistic Update retries under contention.
const DefaultRedisMaxRetries = 16

// RedisOptions configures a RedisStore built by NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key, e.g. "bracketer:".
	Prefix string

	// DialTimeout, ReadTimeout and WriteTimeout are passed to the client.
	// Zero uses the go-redis defaults.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRetries bounds Update attempts when a watched key changes
	// underneath it. Default: DefaultRedisMaxRetries.
	MaxRetries int
}

// RedisStore keeps correlation state in Redis so that independent worker
// processes share it. Update uses WATCH/MULTI/EXEC: if another client touches
// a watched key before EXEC, the transaction is discarded and retried.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	owned      bool
}

// NewRedisStore creates a store with its own client.
func NewRedisStore(opts RedisOptions) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	s := NewRedisStoreFromClient(rdb, opts.Prefix)
	s.owned = true
	if opts.MaxRetries > 0 {
		s.maxRetries = opts.MaxRetries
	}
	return s
}

// NewRedisStoreFromClient wraps a caller-owned client (single node, sentinel
// or cluster). Close does not close the client.
//
// With Redis Cluster every key passed to one Update must hash to the same
// slot; use a hash-tagged prefix or entity keys.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		maxRetries: DefaultRedisMaxRetries,
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

// GetOrCreate implements Store.
func (s *RedisStore) GetOrCreate(ctx context.Context, key string, init func() ([]byte, error)) ([]byte, error) {
	k := s.prefix + key

	v, err := s.client.Get(ctx, k).Bytes()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, unavailable("get_or_create", key, err)
	}

	v, err = init()
	if err != nil {
		return nil, err
	}

	created, err := s.client.SetNX(ctx, k, v, 0).Result()
	if err != nil {
		return nil, unavailable("get_or_create", key, err)
	}
	if created {
		return v, nil
	}

	// Lost the race to another creator; return what it stored.
	stored, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, nil
	}
	if err != nil {
		return nil, unavailable("get_or_create", key, err)
	}
	return stored, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, s.prefixed(keys)...).Err(); err != nil {
		return unavailable("delete", firstKey(keys), err)
	}
	return nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, keys []string, fn UpdateFunc) error {
	full := s.prefixed(keys)

	var fnErr error
	txf := func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, full...).Result()
		if err != nil {
			return err
		}

		current := make(map[string][]byte, len(keys))
		for i, raw := range vals {
			if str, ok := raw.(string); ok {
				current[keys[i]] = []byte(str)
			}
		}

		mut, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if mut.Empty() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(mut.Delete) > 0 {
				pipe.Del(ctx, s.prefixed(mut.Delete)...)
			}
			ttl := mut.TTL
			if ttl < 0 {
				ttl = 0
			}
			for k, v := range mut.Set {
				pipe.Set(ctx, s.prefix+k, v, ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, full...)
		if fnErr != nil {
			return fnErr
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unavailable("update", firstKey(keys), err)
	}
	return unavailable("update", firstKey(keys), redis.TxFailedErr)
}

// Close implements Store. Only clients created by NewRedisStore are closed.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) prefixed(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = s.prefix + k
	}
	return out
}
