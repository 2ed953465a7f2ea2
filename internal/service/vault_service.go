// Package service coordinates the vault engine with its hosts: journaling,
// snapshot persistence, valuation caching, notifications, and the keeper
// loop that maintains the buffer ratio.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/notify"
	"github.com/tidewater-labs/reservoir/internal/vault"
)

// BucketStatus is a bucket claim joined with its most recent valuation.
type BucketStatus struct {
	Bucket   domain.BucketID
	ClaimWad *big.Int
	ValueWad *big.Int // nil when no valuation is available
	AsOf     time.Time
}

// EventSink receives vault events for fan-out to connected clients. The
// server's WebSocket hub implements it.
type EventSink interface {
	Broadcast(channel string, payload any)
}

// VaultService wraps the engine with the operational concerns the engine
// itself stays free of: every mutating operation is journalled win or lose, a
// snapshot is persisted after each success, and state transitions fan out to
// the notifier.
type VaultService struct {
	engine     *vault.Engine
	journal    domain.JournalStore
	snapshots  domain.SnapshotStore
	valuations domain.ValuationCache
	venue      domain.Venue
	notifier   *notify.Notifier
	logger     *slog.Logger

	mu             sync.Mutex
	events         EventSink
	lastRestricted bool
}

// SetEventSink attaches an event sink. Safe to call before serving traffic;
// a nil sink disables event fan-out.
func (s *VaultService) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = sink
}

func (s *VaultService) emit(channel string, payload any) {
	s.mu.Lock()
	sink := s.events
	s.mu.Unlock()
	if sink != nil {
		sink.Broadcast(channel, payload)
	}
}

// NewVaultService creates a VaultService with all required dependencies.
func NewVaultService(
	engine *vault.Engine,
	journal domain.JournalStore,
	snapshots domain.SnapshotStore,
	valuations domain.ValuationCache,
	venue domain.Venue,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *VaultService {
	return &VaultService{
		engine:     engine,
		journal:    journal,
		snapshots:  snapshots,
		valuations: valuations,
		venue:      venue,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "vault_service")),
	}
}

// Engine exposes the underlying engine for read-only callers.
func (s *VaultService) Engine() *vault.Engine {
	return s.engine
}

// Deposit runs an entry, journals the outcome, and persists a snapshot on
// success.
func (s *VaultService) Deposit(ctx context.Context, holder domain.Holder, grossNative *big.Int) (vault.DepositResult, error) {
	res, err := s.engine.Deposit(ctx, holder, grossNative)

	shares := ""
	if err == nil {
		shares = res.SharesMinted.String()
	}
	s.record(ctx, domain.OpDeposit, holder, nil, nil, grossNative.String(), shares, err)
	s.afterMutation(ctx, err)
	return res, err
}

// Withdraw runs an exit, journals the outcome, and persists a snapshot on
// success.
func (s *VaultService) Withdraw(ctx context.Context, holder domain.Holder, netNative *big.Int) (vault.WithdrawResult, error) {
	res, err := s.engine.Withdraw(ctx, holder, netNative)

	shares := ""
	if err == nil {
		shares = res.SharesBurned.String()
	}
	s.record(ctx, domain.OpWithdraw, holder, nil, nil, netNative.String(), shares, err)
	s.afterMutation(ctx, err)
	return res, err
}

// RebalanceToBucket moves buffer value into a bucket, with journaling.
func (s *VaultService) RebalanceToBucket(ctx context.Context, caller domain.Holder, dest domain.BucketID, amountWad *big.Int) (vault.RebalanceResult, error) {
	res, err := s.engine.RebalanceToBucket(ctx, caller, dest, amountWad)
	s.record(ctx, domain.OpRebalanceToBucket, caller, &dest, nil, amountWad.String(), "", err)
	s.afterRebalance(ctx, domain.OpRebalanceToBucket, dest, amountWad, err)
	s.invalidateValuation(ctx, dest)
	return res, err
}

// RebalanceToBuffer pulls bucket value back into the buffer, with journaling.
func (s *VaultService) RebalanceToBuffer(ctx context.Context, caller domain.Holder, src domain.BucketID, claimUnits *big.Int) (vault.RebalanceResult, error) {
	res, err := s.engine.RebalanceToBuffer(ctx, caller, src, claimUnits)
	s.record(ctx, domain.OpRebalanceToBuffer, caller, &src, nil, claimUnits.String(), "", err)
	s.afterRebalance(ctx, domain.OpRebalanceToBuffer, src, claimUnits, err)
	s.invalidateValuation(ctx, src)
	return res, err
}

// RebalanceBetween shifts claim value between two buckets, with journaling.
func (s *VaultService) RebalanceBetween(ctx context.Context, caller domain.Holder, from, to domain.BucketID, claimUnits *big.Int) (vault.RebalanceResult, error) {
	res, err := s.engine.RebalanceBetween(ctx, caller, from, to, claimUnits)
	s.record(ctx, domain.OpRebalanceBetween, caller, &to, &from, claimUnits.String(), "", err)
	s.afterRebalance(ctx, domain.OpRebalanceBetween, to, claimUnits, err)
	s.invalidateValuation(ctx, from)
	s.invalidateValuation(ctx, to)
	return res, err
}

// RecoverCollateral pulls collateral out-of-band, with journaling. A
// successful recovery flips the vault restricted; the transition is notified.
func (s *VaultService) RecoverCollateral(ctx context.Context, caller domain.Holder, src domain.BucketID, claimUnits *big.Int) (*big.Int, error) {
	value, err := s.engine.RecoverCollateral(ctx, caller, src, claimUnits)
	s.record(ctx, domain.OpRecoverCollateral, caller, &src, nil, claimUnits.String(), "", err)
	s.afterMutation(ctx, err)
	return value, err
}

// ReturnCollateral returns all outstanding recovered value, with journaling.
func (s *VaultService) ReturnCollateral(ctx context.Context, caller domain.Holder, dest domain.BucketID) (*big.Int, error) {
	value, err := s.engine.ReturnCollateral(ctx, caller, dest)
	amount := "0"
	if value != nil {
		amount = value.String()
	}
	s.record(ctx, domain.OpReturnCollateral, caller, &dest, nil, amount, "", err)
	s.afterMutation(ctx, err)
	return value, err
}

// Drain reconciles one bucket against the venue, with journaling. A nonzero
// loss is notified.
func (s *VaultService) Drain(ctx context.Context, caller domain.Holder, id domain.BucketID) (*big.Int, error) {
	loss, err := s.engine.Drain(ctx, caller, id)
	amount := "0"
	if loss != nil {
		amount = loss.String()
	}
	s.record(ctx, domain.OpDrain, caller, &id, nil, amount, "", err)
	s.afterMutation(ctx, err)

	if err == nil && loss.Sign() != 0 {
		s.invalidateValuation(ctx, id)
		if nerr := s.notifier.ReconcileLoss(ctx, id, loss.String()); nerr != nil {
			s.logger.WarnContext(ctx, "reconcile loss notification failed",
				slog.String("error", nerr.Error()))
		}
	}
	return loss, err
}

// PreviewDeposit mirrors Deposit with no mutation.
func (s *VaultService) PreviewDeposit(ctx context.Context, grossNative *big.Int) (*big.Int, error) {
	return s.engine.PreviewDeposit(ctx, grossNative)
}

// PreviewWithdraw mirrors Withdraw with no mutation.
func (s *VaultService) PreviewWithdraw(ctx context.Context, netNative *big.Int) (*big.Int, error) {
	return s.engine.PreviewWithdraw(ctx, netNative)
}

// State returns the vault's operating state and restriction reason.
func (s *VaultService) State(ctx context.Context) (domain.VaultState, domain.RestrictedReason, error) {
	return s.engine.State(ctx)
}

// TotalManagedValue returns the vault's total value in native precision.
func (s *VaultService) TotalManagedValue(ctx context.Context) (*big.Int, error) {
	return s.engine.TotalManagedValue(ctx)
}

// BalanceOf returns a holder's share balance in WAD.
func (s *VaultService) BalanceOf(holder domain.Holder) *big.Int {
	return s.engine.BalanceOf(holder)
}

// ShareSupply returns the outstanding share supply in WAD.
func (s *VaultService) ShareSupply() *big.Int {
	return s.engine.ShareSupply()
}

// Buckets enumerates the vault's bucket claims joined with cached
// valuations. Buckets without a fresh cached valuation carry a nil ValueWad.
func (s *VaultService) Buckets(ctx context.Context) ([]BucketStatus, error) {
	claims := s.engine.Buckets()
	ids := make([]domain.BucketID, len(claims))
	for i, c := range claims {
		ids[i] = c.Bucket
	}

	cached, err := s.valuations.GetMany(ctx, ids)
	if err != nil {
		s.logger.WarnContext(ctx, "valuation cache read failed",
			slog.String("error", err.Error()))
		cached = map[domain.BucketID]domain.BucketValuation{}
	}

	out := make([]BucketStatus, 0, len(claims))
	for _, c := range claims {
		st := BucketStatus{Bucket: c.Bucket, ClaimWad: c.Claim}
		if v, ok := cached[c.Bucket]; ok {
			st.ValueWad = v.QuoteValue
			st.AsOf = v.AsOf
		}
		out = append(out, st)
	}
	return out, nil
}

// RefreshValuations values every held bucket at the venue and writes the
// results through to the valuation cache.
func (s *VaultService) RefreshValuations(ctx context.Context) error {
	if err := s.venue.AccrueInterest(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range s.engine.Buckets() {
		value, err := s.venue.VaultClaimValue(ctx, c.Bucket, c.Claim)
		if err != nil {
			return err
		}
		if err := s.valuations.Set(ctx, domain.BucketValuation{
			Bucket:     c.Bucket,
			QuoteValue: value,
			AsOf:       now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// StoreValuation writes one externally sourced valuation (e.g. from the
// venue's WebSocket feed) through to the cache.
func (s *VaultService) StoreValuation(ctx context.Context, v domain.BucketValuation) error {
	if err := s.valuations.Set(ctx, v); err != nil {
		return err
	}
	s.emit("valuations", map[string]any{
		"bucket": uint32(v.Bucket),
		"value":  v.QuoteValue.String(),
		"as_of":  v.AsOf.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// SnapshotNow persists the current ledger state.
func (s *VaultService) SnapshotNow(ctx context.Context) error {
	snap := s.engine.Snapshot()
	snap.TakenAt = time.Now().UTC()
	return s.snapshots.Save(ctx, snap)
}

// Journal lists journal entries, newest first.
func (s *VaultService) Journal(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	return s.journal.List(ctx, opts)
}

// JournalByKind lists journal entries of one operation kind, newest first.
func (s *VaultService) JournalByKind(ctx context.Context, kind domain.OpKind, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	return s.journal.ListByKind(ctx, kind, opts)
}

// record appends a journal entry for an attempted operation. Journal append
// failures are logged, never propagated: the operation's own outcome wins.
func (s *VaultService) record(ctx context.Context, kind domain.OpKind, caller domain.Holder, bucket, from *domain.BucketID, amountWad, sharesWad string, opErr error) {
	entry := domain.JournalEntry{
		ID:         uuid.New().String(),
		Kind:       kind,
		Caller:     caller,
		Bucket:     bucket,
		FromBucket: from,
		AmountWad:  amountWad,
		SharesWad:  sharesWad,
		Succeeded:  opErr == nil,
		CreatedAt:  time.Now().UTC(),
	}
	if opErr != nil {
		entry.ErrorClass = domain.Class(opErr)
		entry.ErrorMsg = opErr.Error()
	}

	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "journal append failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}

	s.emit("journal", map[string]any{
		"id":        entry.ID,
		"kind":      string(entry.Kind),
		"caller":    entry.Caller.Hex(),
		"amount":    entry.AmountWad,
		"succeeded": entry.Succeeded,
		"class":     string(entry.ErrorClass),
	})
}

// afterMutation persists a snapshot after a successful operation, notifies a
// failed one, and fans out restricted-state transitions.
func (s *VaultService) afterMutation(ctx context.Context, opErr error) {
	if opErr == nil {
		if err := s.SnapshotNow(ctx); err != nil {
			s.logger.ErrorContext(ctx, "snapshot save failed",
				slog.String("error", err.Error()))
		}
	}
	s.observeState(ctx)
}

func (s *VaultService) afterRebalance(ctx context.Context, kind domain.OpKind, bucket domain.BucketID, amount *big.Int, opErr error) {
	s.afterMutation(ctx, opErr)

	if opErr != nil {
		// Lock contention is routine between the API and the keeper; only
		// real failures page anyone.
		if errors.Is(opErr, domain.ErrLockActive) {
			return
		}
		if nerr := s.notifier.OperationFailed(ctx, kind, domain.Class(opErr), opErr.Error()); nerr != nil {
			s.logger.WarnContext(ctx, "failure notification failed",
				slog.String("error", nerr.Error()))
		}
		return
	}
	if nerr := s.notifier.RebalanceExecuted(ctx, kind, bucket, amount.String()); nerr != nil {
		s.logger.WarnContext(ctx, "rebalance notification failed",
			slog.String("error", nerr.Error()))
	}
}

// observeState detects transitions into and out of the restricted state and
// notifies them exactly once per transition.
func (s *VaultService) observeState(ctx context.Context) {
	state, reason, err := s.engine.State(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "state read failed", slog.String("error", err.Error()))
		return
	}
	restricted := state == domain.StateRestricted

	s.mu.Lock()
	changed := restricted != s.lastRestricted
	s.lastRestricted = restricted
	s.mu.Unlock()

	if !changed {
		return
	}
	s.emit("state", map[string]any{
		"state":                state.String(),
		"admin_paused":         reason.AdminPaused,
		"recovery_outstanding": reason.RecoveryOutstanding,
	})
	if restricted {
		s.logger.WarnContext(ctx, "vault restricted",
			slog.Bool("admin_paused", reason.AdminPaused),
			slog.Bool("recovery_outstanding", reason.RecoveryOutstanding))
		if err := s.notifier.RestrictedEntered(ctx, reason); err != nil {
			s.logger.WarnContext(ctx, "restricted notification failed",
				slog.String("error", err.Error()))
		}
		return
	}
	s.logger.InfoContext(ctx, "vault active")
	if err := s.notifier.RestrictedCleared(ctx); err != nil {
		s.logger.WarnContext(ctx, "cleared notification failed",
			slog.String("error", err.Error()))
	}
}

func (s *VaultService) invalidateValuation(ctx context.Context, bucket domain.BucketID) {
	if err := s.valuations.Invalidate(ctx, bucket); err != nil {
		s.logger.WarnContext(ctx, "valuation invalidate failed",
			slog.Int("bucket", int(bucket)),
			slog.String("error", err.Error()))
	}
}
