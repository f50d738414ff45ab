package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript atomically checks current+tokens<=limit and commits the
// increment. The key carries the daily window in its name; the TTL only
// garbage-collects stale windows.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local tokens = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local current = tonumber(redis.call('GET', key) or '0')
	if current + tokens > limit then
		return 0
	end

	redis.call('INCRBY', key, tokens)
	if ttl > 0 then
		redis.call('EXPIRE', key, ttl)
	end
	return 1
`)

// RedisStore is the Store used when several orchestrator instances serve
// the same tenants and must share one budget. Keys are scoped to the UTC
// day, so the daily reset is a property of the key name rather than a
// mutation.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "voiceflow"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// WithClock overrides the time source, for tests crossing day boundaries.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) usageKey(key string) string {
	day := s.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("%s:budget:%s:%s", s.prefix, key, day)
}

func (s *RedisStore) killKey(tenantID string) string {
	return fmt.Sprintf("%s:kill:%s", s.prefix, tenantID)
}

// TryConsume implements Store.
func (s *RedisStore) TryConsume(ctx context.Context, key string, tokens int, limit int64) (bool, error) {
	ttl := int((48 * time.Hour).Seconds())
	result, err := consumeScript.Run(ctx, s.rdb, []string{s.usageKey(key)}, tokens, limit, ttl).Int()
	if err != nil {
		return false, fmt.Errorf("admission: redis consume: %w", err)
	}
	return result == 1, nil
}

// Usage implements Store.
func (s *RedisStore) Usage(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, s.usageKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("admission: redis usage: %w", err)
	}
	return n, nil
}

// Disable implements Store. The flag carries no TTL: the kill-switch
// stays set until an explicit Reset.
func (s *RedisStore) Disable(ctx context.Context, tenantID string) error {
	if err := s.rdb.Set(ctx, s.killKey(tenantID), "1", 0).Err(); err != nil {
		return fmt.Errorf("admission: redis disable: %w", err)
	}
	return nil
}

// Disabled implements Store.
func (s *RedisStore) Disabled(ctx context.Context, tenantID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.killKey(tenantID)).Result()
	if err != nil {
		return false, fmt.Errorf("admission: redis disabled: %w", err)
	}
	return n > 0, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, tenantID string) error {
	if err := s.rdb.Del(ctx, s.killKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("admission: redis reset: %w", err)
	}
	return nil
}
