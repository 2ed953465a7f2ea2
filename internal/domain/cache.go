package domain

import (
	"context"
	"time"
)

// ValuationCache holds recent venue bucket valuations so read paths and the
// keeper avoid a venue round-trip per bucket.
type ValuationCache interface {
	Set(ctx context.Context, v BucketValuation) error
	Get(ctx context.Context, bucket BucketID) (BucketValuation, error)
	GetMany(ctx context.Context, buckets []BucketID) (map[BucketID]BucketValuation, error)
	Invalidate(ctx context.Context, bucket BucketID) error
}

// LockManager provides distributed locking, used to keep keeper replicas
// from rebalancing concurrently.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter limits request rates per key, used by the API middleware.
// Allow counts the request when it is admitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
