// Package vault implements the outward-facing proportional-ownership layer
// of the reservoir engine: entry and exit against total managed value, the
// restricted-state machine, and the liquidity-movement operations that shift
// value between the internal buffer and the venue's buckets.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/tidewater-labs/reservoir/internal/bucket"
	"github.com/tidewater-labs/reservoir/internal/buffer"
	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/wad"
)

// Config holds the engine's immutable parameters, fixed at initialization.
type Config struct {
	// AssetDecimals is the managed asset's native precision (1–18).
	AssetDecimals uint8
	// DustFloor is the minimum nonzero WAD claim allowed to remain in the
	// bucket ledger.
	DustFloor *big.Int
	// MinSafeBucketUnits rejects rebalance destinations whose venue-reported
	// claim-unit total is nonzero but below this threshold.
	MinSafeBucketUnits *big.Int
	// FeeSink receives every entry and exit fee; fees are never retained in
	// the buffer or bucket ledgers.
	FeeSink domain.Holder
}

// Engine is the vault accounting engine. Every state-mutating operation runs
// to completion atomically under a non-reentrant guard; a re-entrant call
// fails with ErrLockActive rather than blocking. The buffer ledger carries
// its own guard, so buffer credit/debit is additionally serialized.
type Engine struct {
	cfg    Config
	venue  domain.Venue
	policy domain.Policy

	buffer  *buffer.Ledger
	buckets *bucket.Ledger

	// op is the vault-level non-reentrant operation guard.
	op sync.Mutex
	// mu protects the share ledger and recovered value for concurrent reads.
	mu          sync.Mutex
	shareSupply *big.Int
	balances    map[domain.Holder]*big.Int
	recovered   *big.Int // out-of-band recovered value, WAD
}

// New creates an engine with empty ledgers.
func New(cfg Config, venue domain.Venue, policy domain.Policy) *Engine {
	return &Engine{
		cfg:         cfg,
		venue:       venue,
		policy:      policy,
		buffer:      buffer.NewLedger(),
		buckets:     bucket.NewLedger(cfg.DustFloor),
		shareSupply: new(big.Int),
		balances:    make(map[domain.Holder]*big.Int),
		recovered:   new(big.Int),
	}
}

// RestoreFrom rebuilds an engine from a persisted snapshot. Per-holder share
// balances live in the host's token layer and are not part of the snapshot;
// only the supply is restored here.
func RestoreFrom(cfg Config, venue domain.Venue, policy domain.Policy, snap domain.Snapshot) *Engine {
	e := New(cfg, venue, policy)
	e.buffer = buffer.Restore(snap.BufferTotal, snap.ManaSupply)
	e.buckets = bucket.Restore(cfg.DustFloor, snap.Buckets)
	e.shareSupply = new(big.Int).Set(snap.ShareSupply)
	e.recovered = new(big.Int).Set(snap.RecoveredValue)
	return e
}

// DepositResult reports a completed entry.
type DepositResult struct {
	SharesMinted *big.Int // WAD
	NetNative    *big.Int // credited to the buffer
	FeeNative    *big.Int // routed to the fee sink
}

// WithdrawResult reports a completed exit.
type WithdrawResult struct {
	SharesBurned *big.Int // WAD
	GrossNative  *big.Int // pulled from the buffer
	FeeNative    *big.Int // routed to the fee sink
}

// Deposit enters the vault with a gross native amount. The entry fee is
// carved off the gross, the net is credited to the buffer, and shares are
// minted pro-rata against pre-entry total managed value. Fails with
// ErrCapacityExceeded when the gross exceeds the holder's remaining entry
// capacity under policy.
func (e *Engine) Deposit(ctx context.Context, holder domain.Holder, grossNative *big.Int) (DepositResult, error) {
	if !e.op.TryLock() {
		return DepositResult{}, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireActive(ctx); err != nil {
		return DepositResult{}, err
	}
	if grossNative.Sign() <= 0 {
		return DepositResult{}, fmt.Errorf("vault: deposit amount must be positive")
	}

	if err := e.venue.AccrueInterest(ctx); err != nil {
		return DepositResult{}, fmt.Errorf("vault: accrue interest: %w", err)
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: read policy numerics: %w", err)
	}
	remaining, err := e.policy.RemainingEntryCapacity(ctx, holder)
	if err != nil {
		return DepositResult{}, fmt.Errorf("vault: read entry capacity: %w", err)
	}
	if grossNative.Cmp(remaining) > 0 {
		return DepositResult{}, fmt.Errorf("vault: gross %s exceeds remaining capacity %s: %w",
			grossNative, remaining, domain.ErrCapacityExceeded)
	}

	fee := wad.MulDiv(grossNative, big.NewInt(int64(numerics.EntryFeeBps)), wad.BpsDenom)
	net := new(big.Int).Sub(grossNative, fee)
	netWad := wad.ToWad(net, e.cfg.AssetDecimals)

	// Pre-entry totals fix the share price for this entry.
	totalWad, err := e.totalManagedWad(ctx)
	if err != nil {
		return DepositResult{}, err
	}
	shares := e.convertToShares(netWad, totalWad)

	if _, err := e.buffer.Credit(netWad); err != nil {
		return DepositResult{}, fmt.Errorf("vault: credit buffer: %w", err)
	}
	e.mint(holder, shares)

	return DepositResult{SharesMinted: shares, NetNative: net, FeeNative: fee}, nil
}

// Withdraw exits the vault for a requested net native amount. The gross is
// the net grossed up for the exit fee; shares are burned pro-rata, rounded
// up. Exits pull exclusively from the buffer and never trigger a rebalance;
// ErrInsufficientBufferLiquidity signals the caller must wait for one.
func (e *Engine) Withdraw(ctx context.Context, holder domain.Holder, netNative *big.Int) (WithdrawResult, error) {
	if !e.op.TryLock() {
		return WithdrawResult{}, domain.ErrLockActive
	}
	defer e.op.Unlock()

	if err := e.requireActive(ctx); err != nil {
		return WithdrawResult{}, err
	}
	if netNative.Sign() <= 0 {
		return WithdrawResult{}, fmt.Errorf("vault: withdraw amount must be positive")
	}

	if err := e.venue.AccrueInterest(ctx); err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: accrue interest: %w", err)
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: read policy numerics: %w", err)
	}

	gross := grossUp(netNative, numerics.ExitFeeBps)
	fee := new(big.Int).Sub(gross, netNative)
	grossWad := wad.ToWad(gross, e.cfg.AssetDecimals)

	if grossWad.Cmp(e.buffer.Total()) > 0 {
		return WithdrawResult{}, fmt.Errorf("vault: gross %s exceeds buffer %s: %w",
			gross, e.buffer.Total(), domain.ErrInsufficientBufferLiquidity)
	}

	totalWad, err := e.totalManagedWad(ctx)
	if err != nil {
		return WithdrawResult{}, err
	}
	shares := e.convertToSharesCeil(grossWad, totalWad)

	e.mu.Lock()
	bal, ok := e.balances[holder]
	if !ok || shares.Cmp(bal) > 0 {
		e.mu.Unlock()
		return WithdrawResult{}, fmt.Errorf("vault: burn %s exceeds holder balance: %w", shares, domain.ErrLedgerUnderflow)
	}
	e.mu.Unlock()

	if _, err := e.buffer.Debit(grossWad); err != nil {
		return WithdrawResult{}, fmt.Errorf("vault: debit buffer: %w", err)
	}
	e.burn(holder, shares)

	return WithdrawResult{SharesBurned: shares, GrossNative: gross, FeeNative: fee}, nil
}

// PreviewDeposit mirrors Deposit with no mutation. Returns zero while the
// vault is restricted.
func (e *Engine) PreviewDeposit(ctx context.Context, grossNative *big.Int) (*big.Int, error) {
	if state, _, err := e.State(ctx); err != nil {
		return nil, err
	} else if state == domain.StateRestricted {
		return new(big.Int), nil
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: read policy numerics: %w", err)
	}
	fee := wad.MulDiv(grossNative, big.NewInt(int64(numerics.EntryFeeBps)), wad.BpsDenom)
	netWad := wad.ToWad(new(big.Int).Sub(grossNative, fee), e.cfg.AssetDecimals)

	totalWad, err := e.totalManagedWad(ctx)
	if err != nil {
		return nil, err
	}
	return e.convertToShares(netWad, totalWad), nil
}

// PreviewWithdraw mirrors Withdraw with no mutation. Returns zero while the
// vault is restricted.
func (e *Engine) PreviewWithdraw(ctx context.Context, netNative *big.Int) (*big.Int, error) {
	if state, _, err := e.State(ctx); err != nil {
		return nil, err
	} else if state == domain.StateRestricted {
		return new(big.Int), nil
	}

	numerics, err := e.policy.Numerics(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: read policy numerics: %w", err)
	}
	grossWad := wad.ToWad(grossUp(netNative, numerics.ExitFeeBps), e.cfg.AssetDecimals)

	totalWad, err := e.totalManagedWad(ctx)
	if err != nil {
		return nil, err
	}
	return e.convertToSharesCeil(grossWad, totalWad), nil
}

// TotalManagedValue returns buffer value + venue-valued bucket claims +
// outstanding recovered value, in native precision.
func (e *Engine) TotalManagedValue(ctx context.Context) (*big.Int, error) {
	totalWad, err := e.totalManagedWad(ctx)
	if err != nil {
		return nil, err
	}
	return wad.FromWad(totalWad, e.cfg.AssetDecimals), nil
}

// BucketValue values the vault's claim in one bucket via the venue, in
// native precision.
func (e *Engine) BucketValue(ctx context.Context, id domain.BucketID) (*big.Int, error) {
	claim := e.buckets.Claim(id)
	if claim.Sign() == 0 {
		return new(big.Int), nil
	}
	v, err := e.venue.VaultClaimValue(ctx, id, claim)
	if err != nil {
		return nil, fmt.Errorf("vault: value bucket %d: %w", id, err)
	}
	return wad.FromWad(v, e.cfg.AssetDecimals), nil
}

// Buckets enumerates the non-empty bucket claims.
func (e *Engine) Buckets() []domain.BucketClaim {
	return e.buckets.Buckets()
}

// BufferTotal returns the internal buffer's current value in WAD.
func (e *Engine) BufferTotal() *big.Int {
	return e.buffer.Total()
}

// AssetDecimals returns the managed asset's native precision.
func (e *Engine) AssetDecimals() uint8 {
	return e.cfg.AssetDecimals
}

// BalanceOf returns a holder's share balance in WAD.
func (e *Engine) BalanceOf(holder domain.Holder) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bal, ok := e.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// ShareSupply returns the outstanding share supply in WAD.
func (e *Engine) ShareSupply() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.shareSupply)
}

// Recovered returns the outstanding out-of-band recovered value in WAD.
func (e *Engine) Recovered() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.recovered)
}

// Snapshot captures all ledger state for persistence.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.Snapshot{
		BufferTotal:    e.buffer.Total(),
		ManaSupply:     e.buffer.ShareSupply(),
		ShareSupply:    new(big.Int).Set(e.shareSupply),
		RecoveredValue: new(big.Int).Set(e.recovered),
		Buckets:        e.buckets.Buckets(),
	}
}

// totalManagedWad sums buffer value, venue-valued bucket claims, and the
// recovered value, all in WAD. Callers that mutate must have invoked
// AccrueInterest first so every valuation observes one venue snapshot.
func (e *Engine) totalManagedWad(ctx context.Context) (*big.Int, error) {
	total := e.buffer.Total()
	for _, c := range e.buckets.Buckets() {
		v, err := e.venue.VaultClaimValue(ctx, c.Bucket, c.Claim)
		if err != nil {
			return nil, fmt.Errorf("vault: value bucket %d: %w", c.Bucket, err)
		}
		total.Add(total, v)
	}
	e.mu.Lock()
	total.Add(total, e.recovered)
	e.mu.Unlock()
	return total, nil
}

// convertToShares is the floor pro-rata asset→share conversion with a 1:1
// WAD bootstrap. Shares are WAD-denominated regardless of native precision.
func (e *Engine) convertToShares(assetsWad, totalWad *big.Int) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shareSupply.Sign() == 0 || totalWad.Sign() == 0 {
		return new(big.Int).Set(assetsWad)
	}
	return wad.MulDiv(assetsWad, e.shareSupply, totalWad)
}

// convertToSharesCeil rounds the conversion up, protecting remaining holders
// on exit.
func (e *Engine) convertToSharesCeil(assetsWad, totalWad *big.Int) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shareSupply.Sign() == 0 || totalWad.Sign() == 0 {
		return new(big.Int).Set(assetsWad)
	}
	return wad.MulDivCeil(assetsWad, e.shareSupply, totalWad)
}

func (e *Engine) mint(holder domain.Holder, shares *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, ok := e.balances[holder]
	if !ok {
		bal = new(big.Int)
		e.balances[holder] = bal
	}
	bal.Add(bal, shares)
	e.shareSupply.Add(e.shareSupply, shares)
}

func (e *Engine) burn(holder domain.Holder, shares *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal := e.balances[holder]
	bal.Sub(bal, shares)
	if bal.Sign() == 0 {
		delete(e.balances, holder)
	}
	e.shareSupply.Sub(e.shareSupply, shares)
}

// grossUp converts a requested net amount into the gross amount that leaves
// net after the exit fee: gross = net * 10000 / (10000 - feeBps), ceiling.
func grossUp(net *big.Int, feeBps uint32) *big.Int {
	if feeBps == 0 {
		return new(big.Int).Set(net)
	}
	denom := new(big.Int).Sub(wad.BpsDenom, big.NewInt(int64(feeBps)))
	return wad.MulDivCeil(net, wad.BpsDenom, denom)
}
