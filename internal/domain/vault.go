// Package domain defines the core types, errors, and collaborator interfaces
// shared across the reservoir engine: the buffer and bucket ledgers, vault
// share accounting, the external venue and policy boundaries, and the
// persistence/cache contracts their hosts implement.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BucketID identifies a liquidity bucket at the external venue, e.g. a price
// tier index. The venue owns the key space; the engine only enumerates the
// buckets it holds claims in.
type BucketID uint32

// BufferSentinel is the reserved bucket identifier that routes a fill or wash
// to the internal buffer's tracked claim instead of a real venue bucket.
const BufferSentinel BucketID = 0

// VaultState is the operating state of the vault.
type VaultState int

const (
	// StateActive allows entries, exits, and rebalancing.
	StateActive VaultState = iota
	// StateRestricted blocks all entries, exits, and rebalancing. It is
	// derived from two independent triggers (see RestrictedReason); both
	// must clear before the vault returns to StateActive.
	StateRestricted
)

func (s VaultState) String() string {
	if s == StateRestricted {
		return "restricted"
	}
	return "active"
}

// RestrictedReason records which triggers currently hold the vault in
// StateRestricted. The vault is restricted while either flag is set.
type RestrictedReason struct {
	AdminPaused         bool
	RecoveryOutstanding bool
}

// Restricted reports whether any trigger is set.
func (r RestrictedReason) Restricted() bool {
	return r.AdminPaused || r.RecoveryOutstanding
}

// BufferState is the internal reserve ledger: a WAD quote balance against
// which proportional internal shares ("mana") are issued.
type BufferState struct {
	Total       *big.Int // WAD
	ShareSupply *big.Int // WAD mana supply
}

// BucketClaim is the vault's locally recorded claim in one venue bucket. The
// claim is "LP owned as of last known-good state": it only decreases through
// an explicit wash or a downward reconciliation, never auto-increases from
// venue-side accrual.
type BucketClaim struct {
	Bucket BucketID
	Claim  *big.Int // WAD claim units
}

// Snapshot is a point-in-time copy of all engine ledger state, persisted by
// the snapshot store after every successful mutating operation.
type Snapshot struct {
	TakenAt        time.Time
	BufferTotal    *big.Int
	ManaSupply     *big.Int
	ShareSupply    *big.Int
	RecoveredValue *big.Int
	Buckets        []BucketClaim
}

// Holder identifies an owner of vault shares. Holders share the venue's
// address space.
type Holder = common.Address
