package domain

import (
	"context"
	"math/big"
)

// Role is an authorization role checked against the policy collaborator.
type Role string

const (
	// RoleKeeper may move liquidity between the buffer and buckets.
	RoleKeeper Role = "keeper"
	// RoleRestrictedKeeper may only move liquidity between buckets.
	RoleRestrictedKeeper Role = "restricted_keeper"
	// RoleAdmin manages operational settings and the pause flag.
	RoleAdmin Role = "admin"
	// RoleExceptionHandler may recover and return collateral out-of-band.
	RoleExceptionHandler Role = "exception_handler"
)

// PolicyNumerics is the numeric policy surface consumed by the engine. All
// values are owned and stored by the external policy collaborator.
type PolicyNumerics struct {
	EntryFeeBps    uint32
	ExitFeeBps     uint32
	BufferRatioBps uint32   // 0 disables the buffer-ratio check
	EntryCapacity  *big.Int // native units; remaining deposit headroom
	MinBucketIndex BucketID
}

// Policy is the external role/policy store. Out of core scope: the engine
// only consults it, never mutates it.
type Policy interface {
	HasRole(ctx context.Context, holder Holder, role Role) (bool, error)
	Numerics(ctx context.Context) (PolicyNumerics, error)
	// RemainingEntryCapacity is the gross native amount the holder may still
	// deposit under the policy cap.
	RemainingEntryCapacity(ctx context.Context, holder Holder) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
}
