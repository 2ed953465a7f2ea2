package domain

import (
	"context"
	"math/big"
	"time"
)

// BucketTotals is the venue's authoritative view of one bucket.
type BucketTotals struct {
	Bucket          BucketID
	ClaimUnits      *big.Int // total LP claim units outstanding in the bucket
	QuoteValue      *big.Int // WAD quote-asset value of the bucket
	CollateralValue *big.Int // WAD collateral-asset value of the bucket
	VaultClaim      *big.Int // claim units attributed to this vault
}

// BucketValuation is a cached per-bucket valuation row.
type BucketValuation struct {
	Bucket     BucketID
	QuoteValue *big.Int // WAD value of this vault's claim
	AsOf       time.Time
}

// LiquidityResult reports the outcome of a venue liquidity primitive: the
// claim units created or destroyed and the net quote value that moved.
type LiquidityResult struct {
	ClaimUnits *big.Int // WAD
	QuoteValue *big.Int // WAD
}

// Venue is the external liquidity venue the vault deploys into. The venue
// owns all bucket economics (price curves, interest accrual, LP issuance);
// the engine only consumes its results. Every call is a synchronous
// boundary; AccrueInterest is invoked before any valuation read so that all
// reads within one engine operation observe a single venue snapshot.
type Venue interface {
	// AccrueInterest advances the venue's interest accumulator to now.
	AccrueInterest(ctx context.Context) error

	// BucketTotals returns the venue's authoritative totals for one bucket.
	BucketTotals(ctx context.Context, bucket BucketID) (BucketTotals, error)

	// VaultClaimValue values the given claim units in the given bucket in
	// WAD quote units.
	VaultClaimValue(ctx context.Context, bucket BucketID, claimUnits *big.Int) (*big.Int, error)

	// AddLiquidity deposits quote value into a bucket, returning the claim
	// units minted to the vault and the value actually taken.
	AddLiquidity(ctx context.Context, bucket BucketID, quoteValue *big.Int) (LiquidityResult, error)

	// RemoveLiquidity burns claim units from a bucket, returning the units
	// burned and the quote value released.
	RemoveLiquidity(ctx context.Context, bucket BucketID, claimUnits *big.Int) (LiquidityResult, error)

	// MoveLiquidity shifts claim value between two buckets without passing
	// through the vault's buffer. Returns units burned at from and units
	// minted at to, with the common quote value.
	MoveLiquidity(ctx context.Context, from, to BucketID, claimUnits *big.Int) (burned, minted LiquidityResult, err error)

	// RemoveCollateral pulls collateral out-of-band during an exceptional
	// venue state, returning the WAD value removed.
	RemoveCollateral(ctx context.Context, bucket BucketID, claimUnits *big.Int) (*big.Int, error)

	// ReturnCollateral returns previously recovered value to the venue.
	ReturnCollateral(ctx context.Context, bucket BucketID, quoteValue *big.Int) error
}
