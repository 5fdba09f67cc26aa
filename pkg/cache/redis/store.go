package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/docsync/pkg/cache"
)

const keyPrefix = "docsync:cache:"

// Store implements cache.Store on Redis hashes so that multiple agent
// processes can share one staleness view. Each entry is a hash with value,
// stale, and updatedAt fields; MarkStale touches only the stale field, which
// keeps invalidation atomic without a transaction.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	fields, err := s.rdb.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, cache.ErrNotFound
	}
	e := &cache.Entry{
		Value: []byte(fields["value"]),
		Stale: fields["stale"] == "1",
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updatedAt"]); err == nil {
		e.UpdatedAt = ts
	}
	return e, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.rdb.HSet(ctx, keyPrefix+key,
		"value", string(value),
		"stale", "0",
		"updatedAt", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *Store) MarkStale(ctx context.Context, key string) error {
	return s.rdb.HSet(ctx, keyPrefix+key, "stale", "1").Err()
}

func (s *Store) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func init() {
	cache.RegisterProvider("redis", func(cfg cache.ProviderConfig) (cache.Store, error) {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
		})
		return NewStore(rdb), nil
	})
}
