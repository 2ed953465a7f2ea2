package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// ValuationCache implements domain.ValuationCache using Redis hashes. Each
// bucket's valuation is stored at key "valuation:{bucket}" with fields
// "value" (decimal WAD string) and "ts" (Unix nanosecond timestamp), expiring
// after the configured TTL so stale venue reads never linger.
type ValuationCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewValuationCache creates a ValuationCache backed by the given Client.
func NewValuationCache(c *Client, ttl time.Duration) *ValuationCache {
	return &ValuationCache{rdb: c.Underlying(), ttl: ttl}
}

func valuationKey(bucket domain.BucketID) string {
	return "valuation:" + strconv.FormatUint(uint64(bucket), 10)
}

// Set stores a bucket valuation with the cache TTL.
func (vc *ValuationCache) Set(ctx context.Context, v domain.BucketValuation) error {
	key := valuationKey(v.Bucket)
	fields := map[string]interface{}{
		"value": v.QuoteValue.String(),
		"ts":    strconv.FormatInt(v.AsOf.UnixNano(), 10),
	}

	pipe := vc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if vc.ttl > 0 {
		pipe.Expire(ctx, key, vc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set valuation %d: %w", v.Bucket, err)
	}
	return nil
}

// Get retrieves the cached valuation for a bucket. Returns domain.ErrNotFound
// when no fresh valuation exists.
func (vc *ValuationCache) Get(ctx context.Context, bucket domain.BucketID) (domain.BucketValuation, error) {
	vals, err := vc.rdb.HGetAll(ctx, valuationKey(bucket)).Result()
	if err != nil {
		return domain.BucketValuation{}, fmt.Errorf("redis: get valuation %d: %w", bucket, err)
	}
	v, ok := parseValuation(bucket, vals)
	if !ok {
		return domain.BucketValuation{}, domain.ErrNotFound
	}
	return v, nil
}

// GetMany retrieves valuations for multiple buckets using a pipeline. Buckets
// with no fresh valuation are silently omitted from the result map.
func (vc *ValuationCache) GetMany(ctx context.Context, buckets []domain.BucketID) (map[domain.BucketID]domain.BucketValuation, error) {
	if len(buckets) == 0 {
		return map[domain.BucketID]domain.BucketValuation{}, nil
	}

	pipe := vc.rdb.Pipeline()
	cmds := make(map[domain.BucketID]*redis.MapStringStringCmd, len(buckets))
	for _, b := range buckets {
		cmds[b] = pipe.HGetAll(ctx, valuationKey(b))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get valuations pipeline: %w", err)
	}

	result := make(map[domain.BucketID]domain.BucketValuation, len(buckets))
	for b, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if v, ok := parseValuation(b, vals); ok {
			result[b] = v
		}
	}
	return result, nil
}

// Invalidate drops the cached valuation for a bucket.
func (vc *ValuationCache) Invalidate(ctx context.Context, bucket domain.BucketID) error {
	if err := vc.rdb.Del(ctx, valuationKey(bucket)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate valuation %d: %w", bucket, err)
	}
	return nil
}

func parseValuation(bucket domain.BucketID, vals map[string]string) (domain.BucketValuation, bool) {
	if len(vals) == 0 {
		return domain.BucketValuation{}, false
	}
	valueStr, ok := vals["value"]
	if !ok {
		return domain.BucketValuation{}, false
	}
	value, ok := new(big.Int).SetString(valueStr, 10)
	if !ok {
		return domain.BucketValuation{}, false
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return domain.BucketValuation{}, false
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.BucketValuation{}, false
	}
	return domain.BucketValuation{
		Bucket:     bucket,
		QuoteValue: value,
		AsOf:       time.Unix(0, tsNano),
	}, true
}

// Compile-time interface check.
var _ domain.ValuationCache = (*ValuationCache)(nil)
