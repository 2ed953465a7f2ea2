package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/tidewater-labs/reservoir/internal/buffer"
	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/wad"
)

// RebalanceResult reports the claim units and quote value moved by a
// rebalance operation.
type RebalanceResult struct {
	ClaimUnits *big.Int // WAD
	QuoteValue *big.Int // WAD
}

// RebalanceToBucket moves quote value from the buffer into a venue bucket.
// Keeper-only; subject to destination safety and the buffer-ratio floor:
// the move must not leave the buffer below ratioBps of total managed value.
func (e *Engine) RebalanceToBucket(ctx context.Context, caller domain.Holder, dest domain.BucketID, amountWad *big.Int) (RebalanceResult, error) {
	if !e.op.TryLock() {
		return RebalanceResult{}, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireActive(ctx); err != nil {
		return RebalanceResult{}, err
	}
	if err := e.requireRole(ctx, caller, domain.RoleKeeper); err != nil {
		return RebalanceResult{}, err
	}
	if amountWad.Sign() <= 0 {
		return RebalanceResult{}, fmt.Errorf("vault: rebalance amount must be positive")
	}
	if err := e.venue.AccrueInterest(ctx); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: accrue interest: %w", err)
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: read policy numerics: %w", err)
	}
	if err := e.checkDestination(ctx, dest, numerics); err != nil {
		return RebalanceResult{}, err
	}

	if amountWad.Cmp(e.buffer.Total()) > 0 {
		return RebalanceResult{}, fmt.Errorf("vault: move %s exceeds buffer %s: %w",
			amountWad, e.buffer.Total(), domain.ErrInsufficientBufferLiquidity)
	}

	// Ratio floor: the buffer after the move must hold at least
	// ratioBps/10000 of total managed value. Ratio zero disables the check.
	if numerics.BufferRatioBps != 0 {
		totalWad, err := e.totalManagedWad(ctx)
		if err != nil {
			return RebalanceResult{}, err
		}
		target := wad.MulDiv(totalWad, big.NewInt(int64(numerics.BufferRatioBps)), wad.BpsDenom)
		after := new(big.Int).Sub(e.buffer.Total(), amountWad)
		if after.Cmp(target) < 0 {
			return RebalanceResult{}, fmt.Errorf("vault: buffer %s would drop below target %s: %w",
				after, target, domain.ErrBufferRatioBreach)
		}
	}

	res, err := e.venue.AddLiquidity(ctx, dest, amountWad)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: add liquidity to bucket %d: %w", dest, err)
	}

	if err := e.buckets.Fill(dest, res.ClaimUnits); err != nil {
		// The venue already minted; unwind before surfacing the ledger error.
		if _, unwindErr := e.venue.RemoveLiquidity(ctx, dest, res.ClaimUnits); unwindErr != nil {
			return RebalanceResult{}, fmt.Errorf("vault: fill bucket %d failed (%v) and unwind failed: %w", dest, err, unwindErr)
		}
		return RebalanceResult{}, fmt.Errorf("vault: fill bucket %d: %w", dest, err)
	}
	if _, err := e.buffer.Debit(res.QuoteValue); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: debit buffer: %w", err)
	}

	return RebalanceResult{ClaimUnits: res.ClaimUnits, QuoteValue: res.QuoteValue}, nil
}

// RebalanceToBuffer burns claim units at a bucket and credits the released
// quote value to the buffer. Keeper-only; the move must not push the buffer
// above ratioBps of total managed value.
func (e *Engine) RebalanceToBuffer(ctx context.Context, caller domain.Holder, src domain.BucketID, claimUnits *big.Int) (RebalanceResult, error) {
	if !e.op.TryLock() {
		return RebalanceResult{}, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireActive(ctx); err != nil {
		return RebalanceResult{}, err
	}
	if err := e.requireRole(ctx, caller, domain.RoleKeeper); err != nil {
		return RebalanceResult{}, err
	}
	if claimUnits.Sign() <= 0 {
		return RebalanceResult{}, fmt.Errorf("vault: rebalance claim units must be positive")
	}
	if err := e.venue.AccrueInterest(ctx); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: accrue interest: %w", err)
	}

	if err := e.precheckWash(src, claimUnits); err != nil {
		return RebalanceResult{}, err
	}

	// Project the released value before the venue burns anything: the
	// credit must clear both the buffer's hard ceiling and, when set, the
	// ratio ceiling. A credit failure after RemoveLiquidity would strand
	// partial state.
	released, err := e.venue.VaultClaimValue(ctx, src, claimUnits)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: value bucket %d: %w", src, err)
	}
	after := new(big.Int).Add(e.buffer.Total(), released)
	if after.Cmp(buffer.MaxTotal) > 0 {
		return RebalanceResult{}, fmt.Errorf("vault: buffer %s would exceed hard ceiling: %w",
			after, domain.ErrCapacityExceeded)
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: read policy numerics: %w", err)
	}
	// Ratio zero disables the ceiling check.
	if numerics.BufferRatioBps != 0 {
		totalWad, err := e.totalManagedWad(ctx)
		if err != nil {
			return RebalanceResult{}, err
		}
		target := wad.MulDiv(totalWad, big.NewInt(int64(numerics.BufferRatioBps)), wad.BpsDenom)
		if after.Cmp(target) > 0 {
			return RebalanceResult{}, fmt.Errorf("vault: buffer %s would overshoot target %s: %w",
				after, target, domain.ErrBufferRatioBreach)
		}
	}

	res, err := e.venue.RemoveLiquidity(ctx, src, claimUnits)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: remove liquidity from bucket %d: %w", src, err)
	}

	if err := e.buckets.Wash(src, res.ClaimUnits); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: wash bucket %d: %w", src, err)
	}
	if _, err := e.buffer.Credit(res.QuoteValue); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: credit buffer: %w", err)
	}

	return RebalanceResult{ClaimUnits: res.ClaimUnits, QuoteValue: res.QuoteValue}, nil
}

// RebalanceBetween shifts claim value directly between two buckets. Open to
// keepers and restricted keepers; destination safety applies but the
// buffer-ratio check does not, since the buffer never moves.
func (e *Engine) RebalanceBetween(ctx context.Context, caller domain.Holder, from, to domain.BucketID, claimUnits *big.Int) (RebalanceResult, error) {
	if !e.op.TryLock() {
		return RebalanceResult{}, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireActive(ctx); err != nil {
		return RebalanceResult{}, err
	}
	if err := e.requireAnyRole(ctx, caller, domain.RoleKeeper, domain.RoleRestrictedKeeper); err != nil {
		return RebalanceResult{}, err
	}
	if claimUnits.Sign() <= 0 {
		return RebalanceResult{}, fmt.Errorf("vault: rebalance claim units must be positive")
	}
	if err := e.venue.AccrueInterest(ctx); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: accrue interest: %w", err)
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: read policy numerics: %w", err)
	}
	if err := e.checkDestination(ctx, to, numerics); err != nil {
		return RebalanceResult{}, err
	}
	if err := e.precheckWash(from, claimUnits); err != nil {
		return RebalanceResult{}, err
	}

	burned, minted, err := e.venue.MoveLiquidity(ctx, from, to, claimUnits)
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: move liquidity %d to %d: %w", from, to, err)
	}

	if err := e.buckets.Wash(from, burned.ClaimUnits); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: wash bucket %d: %w", from, err)
	}
	if err := e.buckets.Fill(to, minted.ClaimUnits); err != nil {
		return RebalanceResult{}, fmt.Errorf("vault: fill bucket %d: %w", to, err)
	}

	return RebalanceResult{ClaimUnits: minted.ClaimUnits, QuoteValue: minted.QuoteValue}, nil
}

// RecoverCollateral pulls collateral out-of-band during an exceptional venue
// state. The recovered value joins total managed value as a scalar and
// forces the vault into Restricted until returned; shares are untouched.
// Exception-handler only; allowed while restricted by construction.
func (e *Engine) RecoverCollateral(ctx context.Context, caller domain.Holder, src domain.BucketID, claimUnits *big.Int) (*big.Int, error) {
	if !e.op.TryLock() {
		return nil, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireRole(ctx, caller, domain.RoleExceptionHandler); err != nil {
		return nil, err
	}
	if claimUnits.Sign() <= 0 {
		return nil, fmt.Errorf("vault: recover claim units must be positive")
	}

	value, err := e.venue.RemoveCollateral(ctx, src, claimUnits)
	if err != nil {
		return nil, fmt.Errorf("vault: remove collateral from bucket %d: %w", src, err)
	}

	e.mu.Lock()
	e.recovered.Add(e.recovered, value)
	e.mu.Unlock()
	return new(big.Int).Set(value), nil
}

// ReturnCollateral returns the full outstanding recovered value to the venue
// and clears the recovery restriction. Exception-handler only.
func (e *Engine) ReturnCollateral(ctx context.Context, caller domain.Holder, dest domain.BucketID) (*big.Int, error) {
	if !e.op.TryLock() {
		return nil, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireRole(ctx, caller, domain.RoleExceptionHandler); err != nil {
		return nil, err
	}

	e.mu.Lock()
	outstanding := new(big.Int).Set(e.recovered)
	e.mu.Unlock()
	if outstanding.Sign() == 0 {
		return new(big.Int), nil
	}

	if err := e.venue.ReturnCollateral(ctx, dest, outstanding); err != nil {
		return nil, fmt.Errorf("vault: return collateral to bucket %d: %w", dest, err)
	}

	e.mu.Lock()
	e.recovered.SetInt64(0)
	e.mu.Unlock()
	return outstanding, nil
}

// Drain reconciles the local claim for a bucket against the venue's
// authoritative claim, shrinking it when the venue has lost value. Shares
// the bucket-to-bucket authorization gate; a no-op when nothing was lost.
// Permitted while restricted: reconciliation must never be blocked.
func (e *Engine) Drain(ctx context.Context, caller domain.Holder, id domain.BucketID) (*big.Int, error) {
	if !e.op.TryLock() {
		return nil, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireAnyRole(ctx, caller, domain.RoleKeeper, domain.RoleRestrictedKeeper); err != nil {
		return nil, err
	}
	if err := e.venue.AccrueInterest(ctx); err != nil {
		return nil, fmt.Errorf("vault: accrue interest: %w", err)
	}

	totals, err := e.venue.BucketTotals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("vault: bucket totals %d: %w", id, err)
	}
	return e.buckets.Reconcile(id, totals.VaultClaim), nil
}

// checkDestination rejects a destination below the policy's minimum bucket
// index, and a bucket whose venue claim-unit total is nonzero but below the
// minimum-safe threshold, whose unit economics are too degenerate to value
// new liquidity reliably.
func (e *Engine) checkDestination(ctx context.Context, dest domain.BucketID, numerics domain.PolicyNumerics) error {
	if dest < numerics.MinBucketIndex {
		return fmt.Errorf("vault: bucket %d below minimum index %d: %w",
			dest, numerics.MinBucketIndex, domain.ErrBucketBelowMinIndex)
	}
	totals, err := e.venue.BucketTotals(ctx, dest)
	if err != nil {
		return fmt.Errorf("vault: bucket totals %d: %w", dest, err)
	}
	if totals.ClaimUnits.Sign() != 0 && totals.ClaimUnits.Cmp(e.cfg.MinSafeBucketUnits) < 0 {
		return fmt.Errorf("vault: bucket %d claim units %s below safe minimum %s: %w",
			dest, totals.ClaimUnits, e.cfg.MinSafeBucketUnits, domain.ErrUnsafeBucket)
	}
	return nil
}

// precheckWash validates that washing claimUnits from a bucket cannot fail
// after the venue has already moved value: the claim must cover the units
// and the remainder must clear the dust floor or be exactly zero.
func (e *Engine) precheckWash(src domain.BucketID, claimUnits *big.Int) error {
	cur := e.buckets.Claim(src)
	if claimUnits.Cmp(cur) > 0 {
		return fmt.Errorf("vault: wash %s exceeds claim %s in bucket %d: %w",
			claimUnits, cur, src, domain.ErrLedgerUnderflow)
	}
	rest := new(big.Int).Sub(cur, claimUnits)
	if rest.Sign() != 0 && rest.Cmp(e.cfg.DustFloor) < 0 {
		return fmt.Errorf("vault: bucket %d would hold dust %s: %w", src, rest, domain.ErrDustyPosition)
	}
	return nil
}

func (e *Engine) requireRole(ctx context.Context, caller domain.Holder, role domain.Role) error {
	ok, err := e.policy.HasRole(ctx, caller, role)
	if err != nil {
		return fmt.Errorf("vault: role check: %w", err)
	}
	if !ok {
		return fmt.Errorf("vault: caller %s lacks role %s: %w", caller.Hex(), role, domain.ErrUnauthorized)
	}
	return nil
}

func (e *Engine) requireAnyRole(ctx context.Context, caller domain.Holder, roles ...domain.Role) error {
	for _, role := range roles {
		ok, err := e.policy.HasRole(ctx, caller, role)
		if err != nil {
			return fmt.Errorf("vault: role check: %w", err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("vault: caller %s lacks roles %v: %w", caller.Hex(), roles, domain.ErrUnauthorized)
}
