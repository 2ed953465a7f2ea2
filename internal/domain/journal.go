package domain

import (
	"time"
)

// OpKind enumerates the journalled engine operations.
type OpKind string

const (
	OpDeposit           OpKind = "deposit"
	OpWithdraw          OpKind = "withdraw"
	OpRebalanceToBucket OpKind = "rebalance_to_bucket"
	OpRebalanceToBuffer OpKind = "rebalance_to_buffer"
	OpRebalanceBetween  OpKind = "rebalance_between"
	OpRecoverCollateral OpKind = "recover_collateral"
	OpReturnCollateral  OpKind = "return_collateral"
	OpDrain             OpKind = "drain"
)

// JournalEntry is one append-only record of an attempted engine operation.
// Amounts are decimal strings of WAD values so the row survives any integer
// width the database would impose.
type JournalEntry struct {
	ID         string // uuid
	Kind       OpKind
	Caller     Holder
	Bucket     *BucketID // destination bucket, when applicable
	FromBucket *BucketID // source bucket for between-bucket moves
	AmountWad  string
	SharesWad  string // shares minted/burned, empty for rebalances
	Succeeded  bool
	ErrorClass ErrorClass // set when Succeeded is false
	ErrorMsg   string
	CreatedAt  time.Time
}
