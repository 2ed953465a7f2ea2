package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

func TestDepositJournalsAndSnapshots(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	res, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	assert.Equal(t, mustWad(100).String(), res.SharesMinted.String())

	entries := env.journal.byKind(domain.OpDeposit)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Succeeded)
	assert.Equal(t, alice, entries[0].Caller)
	assert.Equal(t, "100000000", entries[0].AmountWad)
	assert.Equal(t, mustWad(100).String(), entries[0].SharesWad)
	assert.NotEmpty(t, entries[0].ID)

	assert.Equal(t, 1, env.snapshots.count())
}

func TestFailedWithdrawJournalsFailureWithoutSnapshot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Withdraw(ctx, alice, big.NewInt(50_000000))
	require.Error(t, err)

	entries := env.journal.byKind(domain.OpWithdraw)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Succeeded)
	assert.NotEmpty(t, entries[0].ErrorClass)
	assert.NotEmpty(t, entries[0].ErrorMsg)

	assert.Zero(t, env.snapshots.count())
}

func TestRebalanceJournalsBucketAndInvalidatesValuation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)

	// Seed a stale cached valuation for the destination bucket.
	require.NoError(t, env.valuations.Set(ctx, domain.BucketValuation{
		Bucket: 1, QuoteValue: big.NewInt(1), AsOf: time.Now(),
	}))

	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(40))
	require.NoError(t, err)

	entries := env.journal.byKind(domain.OpRebalanceToBucket)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Bucket)
	assert.Equal(t, domain.BucketID(1), *entries[0].Bucket)

	_, err = env.valuations.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRebalanceBetweenJournalsBothBuckets(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(60))
	require.NoError(t, err)

	_, err = env.svc.RebalanceBetween(ctx, keeperAddr, 1, 2, mustWad(20))
	require.NoError(t, err)

	entries := env.journal.byKind(domain.OpRebalanceBetween)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].FromBucket)
	require.NotNil(t, entries[0].Bucket)
	assert.Equal(t, domain.BucketID(1), *entries[0].FromBucket)
	assert.Equal(t, domain.BucketID(2), *entries[0].Bucket)
}

func TestDrainLossNotifies(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(50))
	require.NoError(t, err)

	// The venue loses a fifth of the vault's claim.
	env.venue.loseClaim(1, mustWad(40))

	loss, err := env.svc.Drain(ctx, keeperAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, mustWad(10).String(), loss.String())

	assert.Contains(t, env.sender.all(), "Reconcile loss")
}

func TestDrainNoLossStaysQuiet(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(50))
	require.NoError(t, err)

	loss, err := env.svc.Drain(ctx, keeperAddr, 1)
	require.NoError(t, err)
	assert.Zero(t, loss.Sign())

	assert.NotContains(t, env.sender.all(), "Reconcile loss")
}

func TestRestrictedTransitionsNotifyOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(50))
	require.NoError(t, err)

	// Recovery flips the vault restricted.
	_, err = env.svc.RecoverCollateral(ctx, handlr, 1, mustWad(10))
	require.NoError(t, err)

	titles := env.sender.all()
	assert.Contains(t, titles, "Vault restricted")

	// A second operation while restricted must not re-notify.
	_, err = env.svc.Deposit(ctx, alice, big.NewInt(1_000000))
	require.Error(t, err)
	restrictedCount := 0
	for _, title := range env.sender.all() {
		if title == "Vault restricted" {
			restrictedCount++
		}
	}
	assert.Equal(t, 1, restrictedCount)

	// Returning the collateral clears the restriction.
	_, err = env.svc.ReturnCollateral(ctx, handlr, 1)
	require.NoError(t, err)
	assert.Contains(t, env.sender.all(), "Vault active")
}

func TestBucketsJoinsCachedValuations(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(30))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 2, mustWad(30))
	require.NoError(t, err)

	asOf := time.Now().UTC()
	require.NoError(t, env.valuations.Set(ctx, domain.BucketValuation{
		Bucket: 1, QuoteValue: mustWad(31), AsOf: asOf,
	}))

	statuses, err := env.svc.Buckets(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byBucket := make(map[domain.BucketID]BucketStatus)
	for _, st := range statuses {
		byBucket[st.Bucket] = st
	}
	require.NotNil(t, byBucket[1].ValueWad)
	assert.Equal(t, mustWad(31).String(), byBucket[1].ValueWad.String())
	assert.Nil(t, byBucket[2].ValueWad)
}

func TestRefreshValuationsFillsCache(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
	_, err = env.svc.RebalanceToBucket(ctx, keeperAddr, 1, mustWad(50))
	require.NoError(t, err)

	require.NoError(t, env.svc.RefreshValuations(ctx))

	v, err := env.valuations.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, mustWad(50).String(), v.QuoteValue.String())
	assert.False(t, v.AsOf.IsZero())
}

func TestEventSinkReceivesJournalAndValuationEvents(t *testing.T) {
	env := newTestEnv()
	sink := &recordingSink{}
	env.svc.SetEventSink(sink)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)

	require.NoError(t, env.svc.StoreValuation(ctx, domain.BucketValuation{
		Bucket: 1, QuoteValue: mustWad(5), AsOf: time.Now(),
	}))

	channels := sink.channels()
	assert.Contains(t, channels, "journal")
	assert.Contains(t, channels, "valuations")
}

func TestNilEventSinkIsSafe(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, alice, big.NewInt(100_000000))
	require.NoError(t, err)
}
