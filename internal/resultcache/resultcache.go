// Package resultcache stores encoded pivot payloads keyed by report and
// request hash. Entries are TTL-bound and last-writer-wins; a cache failure
// is never allowed to fail the query path.
package resultcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pivotgate/internal/enginerr"
)

// Cache is the engine-facing surface. Get reports a miss with ok=false and
// a nil error; errors mean the backend itself misbehaved.
type Cache interface {
	Get(ctx context.Context, reportID, requestHash string) ([]byte, bool, error)
	Set(ctx context.Context, reportID, requestHash string, payload []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, reportID string) error
}

func cacheKey(reportID, requestHash string) string {
	return fmt.Sprintf("pivot:result:%s:%s", reportID, requestHash)
}

// Redis backs Cache with a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, reportID, requestHash string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, cacheKey(reportID, requestHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, enginerr.Wrap(enginerr.KindInternal, err, "cache get")
	}
	return payload, true, nil
}

func (r *Redis) Set(ctx context.Context, reportID, requestHash string, payload []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, cacheKey(reportID, requestHash), payload, ttl).Err(); err != nil {
		return enginerr.Wrap(enginerr.KindInternal, err, "cache set")
	}
	return nil
}

// Invalidate removes every cached payload for a report, used when a report
// definition changes.
func (r *Redis) Invalidate(ctx context.Context, reportID string) error {
	pattern := cacheKey(reportID, "*")
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return enginerr.Wrap(enginerr.KindInternal, err, "cache scan")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return enginerr.Wrap(enginerr.KindInternal, err, "cache invalidate")
	}
	return nil
}

// Disabled is the no-op cache used when caching is turned off: every Get
// misses and Set discards.
type Disabled struct{}

func (Disabled) Get(context.Context, string, string) ([]byte, bool, error) { return nil, false, nil }
func (Disabled) Set(context.Context, string, string, []byte, time.Duration) error {
	return nil
}
func (Disabled) Invalidate(context.Context, string) error { return nil }
