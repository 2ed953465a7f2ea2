package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/wad"
)

// keeperLockKey serializes keeper replicas across processes.
const keeperLockKey = "keeper:rebalance"

// KeeperConfig holds the keeper loop's tuning parameters.
type KeeperConfig struct {
	// Identity is the holder address the keeper authenticates as. It must
	// carry the keeper role at the policy store.
	Identity domain.Holder

	// Interval between maintenance passes.
	Interval time.Duration

	// LockTTL bounds how long a crashed replica can hold the distributed
	// lock. It should comfortably exceed one maintenance pass.
	LockTTL time.Duration

	// TargetBucket receives buffer excess when the buffer sits above its
	// policy ratio.
	TargetBucket domain.BucketID

	// ToleranceBps widens the ratio band the keeper considers balanced, so
	// small drifts do not churn venue liquidity every pass.
	ToleranceBps uint32

	// ArchiveAge is how old a journal entry must be before the archiver
	// moves it to cold storage. Zero disables archiving.
	ArchiveAge time.Duration
}

// Keeper runs the periodic maintenance loop: reconcile every bucket against
// the venue, steer the buffer back toward its policy ratio, refresh the
// valuation cache, and archive old journal rows. Replicas coordinate through
// a distributed lock; losing the lock skips the pass.
type Keeper struct {
	cfg      KeeperConfig
	svc      *VaultService
	policy   domain.Policy
	locks    domain.LockManager
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewKeeper creates a Keeper. archiver may be nil when cold storage is not
// configured.
func NewKeeper(cfg KeeperConfig, svc *VaultService, policy domain.Policy, locks domain.LockManager, archiver domain.Archiver, logger *slog.Logger) *Keeper {
	return &Keeper{
		cfg:      cfg,
		svc:      svc,
		policy:   policy,
		locks:    locks,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run blocks, executing one maintenance pass per interval until the context
// is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	k.logger.InfoContext(ctx, "keeper started",
		slog.Duration("interval", k.cfg.Interval),
		slog.Int("target_bucket", int(k.cfg.TargetBucket)))

	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.pass(ctx)
		}
	}
}

// pass runs one maintenance pass under the distributed lock.
func (k *Keeper) pass(ctx context.Context) {
	unlock, err := k.locks.Acquire(ctx, keeperLockKey, k.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockActive) {
			k.logger.DebugContext(ctx, "another keeper replica holds the lock")
			return
		}
		k.logger.ErrorContext(ctx, "lock acquire failed", slog.String("error", err.Error()))
		return
	}
	defer unlock()

	if err := k.reconcileAll(ctx); err != nil {
		k.logger.ErrorContext(ctx, "reconcile pass failed", slog.String("error", err.Error()))
	}
	if err := k.maintainBuffer(ctx); err != nil {
		k.logger.ErrorContext(ctx, "buffer maintenance failed", slog.String("error", err.Error()))
	}
	if err := k.svc.RefreshValuations(ctx); err != nil {
		k.logger.WarnContext(ctx, "valuation refresh failed", slog.String("error", err.Error()))
	}
	k.archive(ctx)
}

// reconcileAll drains every held bucket, syncing local claims downward
// against the venue.
func (k *Keeper) reconcileAll(ctx context.Context) error {
	for _, c := range k.svc.Engine().Buckets() {
		loss, err := k.svc.Drain(ctx, k.cfg.Identity, c.Bucket)
		if err != nil {
			return err
		}
		if loss.Sign() != 0 {
			k.logger.WarnContext(ctx, "bucket reconciled downward",
				slog.Int("bucket", int(c.Bucket)),
				slog.String("loss_wad", loss.String()))
		}
	}
	return nil
}

// maintainBuffer steers the buffer toward its policy ratio: excess flows to
// the target bucket, deficit is pulled back from held buckets. Skipped while
// the vault is restricted or the ratio is disabled.
func (k *Keeper) maintainBuffer(ctx context.Context) error {
	state, _, err := k.svc.State(ctx)
	if err != nil {
		return err
	}
	if state == domain.StateRestricted {
		return nil
	}

	engine := k.svc.Engine()
	numerics, err := k.policy.Numerics(ctx)
	if err != nil {
		return err
	}
	if numerics.BufferRatioBps == 0 {
		return nil
	}

	totalNative, err := engine.TotalManagedValue(ctx)
	if err != nil {
		return err
	}
	totalWad := wad.ToWad(totalNative, engine.AssetDecimals())
	target := wad.MulDiv(totalWad, big.NewInt(int64(numerics.BufferRatioBps)), wad.BpsDenom)
	tolerance := wad.MulDiv(totalWad, big.NewInt(int64(k.cfg.ToleranceBps)), wad.BpsDenom)
	buffer := engine.BufferTotal()

	excess := new(big.Int).Sub(buffer, target)
	switch {
	case excess.Cmp(tolerance) > 0:
		_, err := k.svc.RebalanceToBucket(ctx, k.cfg.Identity, k.cfg.TargetBucket, excess)
		if err != nil && !errors.Is(err, domain.ErrLockActive) {
			return err
		}
	case new(big.Int).Neg(excess).Cmp(tolerance) > 0:
		return k.pullDeficit(ctx, new(big.Int).Neg(excess))
	}
	return nil
}

// pullDeficit pulls value back from held buckets until the deficit is
// covered. Per-bucket pulls are sized pro-rata against the bucket's value; a
// pull that would leave dust falls back to washing the full claim.
func (k *Keeper) pullDeficit(ctx context.Context, deficit *big.Int) error {
	engine := k.svc.Engine()
	remaining := new(big.Int).Set(deficit)

	for _, c := range engine.Buckets() {
		if remaining.Sign() <= 0 {
			return nil
		}

		native, err := engine.BucketValue(ctx, c.Bucket)
		if err != nil {
			return err
		}
		value := wad.ToWad(native, engine.AssetDecimals())
		if value.Sign() == 0 {
			continue
		}

		units := new(big.Int).Set(c.Claim)
		if value.Cmp(remaining) > 0 {
			units = wad.MulDiv(c.Claim, remaining, value)
		}
		if units.Sign() == 0 {
			continue
		}

		_, err = k.svc.RebalanceToBuffer(ctx, k.cfg.Identity, c.Bucket, units)
		if errors.Is(err, domain.ErrDustyPosition) {
			// A partial pull would strand dust; take the whole claim.
			_, err = k.svc.RebalanceToBuffer(ctx, k.cfg.Identity, c.Bucket, c.Claim)
		}
		if err != nil {
			if errors.Is(err, domain.ErrLockActive) || errors.Is(err, domain.ErrBufferRatioBreach) {
				return nil
			}
			return err
		}
		// Recompute from the ledger rather than trusting per-pull estimates.
		remaining = k.remainingDeficit(ctx)
		if remaining == nil {
			return nil
		}
	}
	return nil
}

// remainingDeficit recomputes the buffer shortfall, nil when balanced or the
// computation fails (the next pass will retry).
func (k *Keeper) remainingDeficit(ctx context.Context) *big.Int {
	engine := k.svc.Engine()
	numerics, err := k.policy.Numerics(ctx)
	if err != nil {
		return nil
	}
	totalNative, err := engine.TotalManagedValue(ctx)
	if err != nil {
		return nil
	}
	totalWad := wad.ToWad(totalNative, engine.AssetDecimals())
	target := wad.MulDiv(totalWad, big.NewInt(int64(numerics.BufferRatioBps)), wad.BpsDenom)
	deficit := new(big.Int).Sub(target, engine.BufferTotal())
	if deficit.Sign() <= 0 {
		return nil
	}
	return deficit
}

// archive moves old journal rows to cold storage once per pass.
func (k *Keeper) archive(ctx context.Context) {
	if k.archiver == nil || k.cfg.ArchiveAge <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-k.cfg.ArchiveAge)
	n, err := k.archiver.ArchiveJournal(ctx, cutoff)
	if err != nil {
		k.logger.ErrorContext(ctx, "journal archive failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		k.logger.InfoContext(ctx, "journal archived", slog.Int64("entries", n))
	}
}
