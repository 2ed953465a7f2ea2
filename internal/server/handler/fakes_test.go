package handler

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/service"
	"github.com/tidewater-labs/reservoir/internal/vault"
)

var (
	testHolder = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testKeeper = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// fakeVaultService returns canned values, or err from every method when set.
type fakeVaultService struct {
	err error

	state  domain.VaultState
	reason domain.RestrictedReason

	totalValue  *big.Int
	shareSupply *big.Int
	buckets     []service.BucketStatus
	balance     *big.Int
	preview     *big.Int

	deposit  vault.DepositResult
	withdraw vault.WithdrawResult

	lastHolder domain.Holder
	lastAmount *big.Int
}

func (f *fakeVaultService) State(context.Context) (domain.VaultState, domain.RestrictedReason, error) {
	return f.state, f.reason, f.err
}

func (f *fakeVaultService) TotalManagedValue(context.Context) (*big.Int, error) {
	return f.totalValue, f.err
}

func (f *fakeVaultService) Buckets(context.Context) ([]service.BucketStatus, error) {
	return f.buckets, f.err
}

func (f *fakeVaultService) BalanceOf(holder domain.Holder) *big.Int {
	f.lastHolder = holder
	return f.balance
}

func (f *fakeVaultService) ShareSupply() *big.Int { return f.shareSupply }

func (f *fakeVaultService) PreviewDeposit(_ context.Context, gross *big.Int) (*big.Int, error) {
	f.lastAmount = gross
	return f.preview, f.err
}

func (f *fakeVaultService) PreviewWithdraw(_ context.Context, net *big.Int) (*big.Int, error) {
	f.lastAmount = net
	return f.preview, f.err
}

func (f *fakeVaultService) Deposit(_ context.Context, holder domain.Holder, gross *big.Int) (vault.DepositResult, error) {
	f.lastHolder, f.lastAmount = holder, gross
	return f.deposit, f.err
}

func (f *fakeVaultService) Withdraw(_ context.Context, holder domain.Holder, net *big.Int) (vault.WithdrawResult, error) {
	f.lastHolder, f.lastAmount = holder, net
	return f.withdraw, f.err
}

var _ VaultAPI = (*fakeVaultService)(nil)

// fakeRebalanceService records the last call and returns canned results.
type fakeRebalanceService struct {
	err    error
	result vault.RebalanceResult
	value  *big.Int
	loss   *big.Int

	lastOp     string
	lastCaller domain.Holder
	lastFrom   domain.BucketID
	lastBucket domain.BucketID
	lastAmount *big.Int
}

func (f *fakeRebalanceService) RebalanceToBucket(_ context.Context, caller domain.Holder, dest domain.BucketID, amount *big.Int) (vault.RebalanceResult, error) {
	f.lastOp, f.lastCaller, f.lastBucket, f.lastAmount = "to_bucket", caller, dest, amount
	return f.result, f.err
}

func (f *fakeRebalanceService) RebalanceToBuffer(_ context.Context, caller domain.Holder, src domain.BucketID, units *big.Int) (vault.RebalanceResult, error) {
	f.lastOp, f.lastCaller, f.lastBucket, f.lastAmount = "to_buffer", caller, src, units
	return f.result, f.err
}

func (f *fakeRebalanceService) RebalanceBetween(_ context.Context, caller domain.Holder, from, to domain.BucketID, units *big.Int) (vault.RebalanceResult, error) {
	f.lastOp, f.lastCaller, f.lastFrom, f.lastBucket, f.lastAmount = "between", caller, from, to, units
	return f.result, f.err
}

func (f *fakeRebalanceService) RecoverCollateral(_ context.Context, caller domain.Holder, src domain.BucketID, units *big.Int) (*big.Int, error) {
	f.lastOp, f.lastCaller, f.lastBucket, f.lastAmount = "recover", caller, src, units
	return f.value, f.err
}

func (f *fakeRebalanceService) ReturnCollateral(_ context.Context, caller domain.Holder, dest domain.BucketID) (*big.Int, error) {
	f.lastOp, f.lastCaller, f.lastBucket = "return", caller, dest
	return f.value, f.err
}

func (f *fakeRebalanceService) Drain(_ context.Context, caller domain.Holder, id domain.BucketID) (*big.Int, error) {
	f.lastOp, f.lastCaller, f.lastBucket = "drain", caller, id
	return f.loss, f.err
}

var _ RebalanceAPI = (*fakeRebalanceService)(nil)

// fakeJournalService serves a fixed slice and records the filter it saw.
type fakeJournalService struct {
	entries []domain.JournalEntry
	err     error

	lastKind domain.OpKind
	lastOpts domain.ListOpts
}

func (f *fakeJournalService) Journal(_ context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	f.lastOpts = opts
	return f.entries, f.err
}

func (f *fakeJournalService) JournalByKind(_ context.Context, kind domain.OpKind, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	f.lastKind, f.lastOpts = kind, opts
	return f.entries, f.err
}

var _ JournalAPI = (*fakeJournalService)(nil)

func journalEntry(id string, kind domain.OpKind, created time.Time) domain.JournalEntry {
	return domain.JournalEntry{
		ID:        id,
		Kind:      kind,
		Caller:    testKeeper,
		AmountWad: "1000000000000000000",
		Succeeded: true,
		CreatedAt: created,
	}
}
