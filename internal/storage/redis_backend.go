package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the Redis backend writes.
const DefaultRedisPrefix = "ticktree:snapshot:"

// RedisBackend stores snapshots as JSON strings, indexed by a sorted set
// scored by save time.
type RedisBackend struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// WithRedisTTL expires snapshots that are not saved again within ttl.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) { b.ttl = ttl }
}

// NewRedisBackend wraps an existing client. Close closes the client.
func NewRedisBackend(client *backend.Client, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client, prefix: DefaultRedisPrefix}
	for _, o := range opts {
		o(b)
	}
	return b
}

// DialRedis connects to the server named by a redis:// URL and checks it
// answers.
func DialRedis(ctx context.Context, rawURL string, opts ...RedisOption) (*RedisBackend, error) {
	o, err := backend.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := backend.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewRedisBackend(client, opts...), nil
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

func (b *RedisBackend) indexKey() string { return b.prefix + "index" }

// Save writes the snapshot and indexes it.
func (b *RedisBackend) Save(ctx context.Context, snap *Snapshot) error {
	data, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(snap.Key), data, b.ttl)
	pipe.ZAdd(ctx, b.indexKey(), backend.Z{
		Score:  float64(snap.SavedAt.UnixMilli()),
		Member: snap.Key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load fetches a snapshot.
func (b *RedisBackend) Load(ctx context.Context, key string) (*Snapshot, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	val, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return unmarshalSnapshot(val)
}

// List reads the index. Entries whose key expired are dropped from the
// index on the way.
func (b *RedisBackend) List(ctx context.Context) ([]Info, error) {
	members, err := b.client.ZRangeWithScores(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	pipe := b.client.Pipeline()
	sizes := make([]*backend.IntCmd, len(members))
	for i, m := range members {
		sizes[i] = pipe.StrLen(ctx, b.key(m.Member.(string)))
	}
	if len(members) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to stat snapshots: %w", err)
		}
	}

	out := make([]Info, 0, len(members))
	var stale []any
	for i, m := range members {
		key := m.Member.(string)
		size := sizes[i].Val()
		if size == 0 {
			stale = append(stale, key)
			continue
		}
		out = append(out, Info{Key: key, Size: size, SavedAt: time.UnixMilli(int64(m.Score)).UTC()})
	}
	if len(stale) > 0 {
		if err := b.client.ZRem(ctx, b.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune snapshot index: %w", err)
		}
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// Delete removes a snapshot and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key(key))
	pipe.ZRem(ctx, b.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (b *RedisBackend) Close() error { return b.client.Close() }

var _ Backend = (*RedisBackend)(nil)
