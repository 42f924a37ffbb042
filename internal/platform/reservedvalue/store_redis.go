package reservedvalue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var isReservedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tracker_is_value_reserved_duration_ms",
	Help:    "Latency of reserved value lookups in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const keyPrefix = "reserved:pattern:"

// RedisStore keeps one Redis set per text pattern.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewClient connects to url and pings the server.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Key returns the set key of pattern. Patterns contain quotes and spaces,
// so the key carries a digest of the pattern instead.
func Key(pattern string) string {
	sum := sha1.Sum([]byte(pattern))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func (s *RedisStore) Reserve(ctx context.Context, pattern string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	members := make([]any, len(values))
	for i, v := range values {
		members[i] = v
	}
	return s.client.SAdd(ctx, Key(pattern), members...).Err()
}

func (s *RedisStore) IsReserved(ctx context.Context, pattern, value string) (bool, error) {
	start := time.Now()
	defer func() {
		isReservedDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()
	if value == "" {
		return false, nil
	}
	ok, err := s.client.SIsMember(ctx, Key(pattern), value).Result()
	if err != nil {
		return false, fmt.Errorf("lookup reserved value: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, pattern string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	members := make([]any, len(values))
	for i, v := range values {
		members[i] = v
	}
	return s.client.SRem(ctx, Key(pattern), members...).Err()
}
