// Package bucket implements the vault's position ledger over the external
// venue's bucket space: a sparse claim map paired with a dense enumeration
// list compacted by swap-and-pop, so membership checks and removal are O(1)
// and enumeration never scans the venue's sparse key space.
package bucket

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// Ledger tracks the vault's locally recorded claim per bucket. Claims only
// move through explicit Fill/Wash calls or a downward Reconcile; venue-side
// accrual never changes them implicitly.
type Ledger struct {
	mu sync.Mutex

	claims map[domain.BucketID]*big.Int
	list   []domain.BucketID
	pos    map[domain.BucketID]int

	// bufferClaim is the tracked claim routed through the buffer sentinel;
	// it never appears in the enumeration list.
	bufferClaim *big.Int

	dustFloor *big.Int
}

// NewLedger creates an empty position ledger with the given dust floor. A
// claim may be zero or at least the floor, never in between; this keeps
// positions large enough for the venue to revalue without rounding blowup.
func NewLedger(dustFloor *big.Int) *Ledger {
	return &Ledger{
		claims:      make(map[domain.BucketID]*big.Int),
		pos:         make(map[domain.BucketID]int),
		bufferClaim: new(big.Int),
		dustFloor:   new(big.Int).Set(dustFloor),
	}
}

// Restore loads persisted claims into a fresh ledger.
func Restore(dustFloor *big.Int, claims []domain.BucketClaim) *Ledger {
	l := NewLedger(dustFloor)
	for _, c := range claims {
		if c.Claim.Sign() == 0 {
			continue
		}
		l.pos[c.Bucket] = len(l.list)
		l.list = append(l.list, c.Bucket)
		l.claims[c.Bucket] = new(big.Int).Set(c.Claim)
	}
	return l
}

// Fill adds claim units to a bucket, inserting it into the enumeration list
// on first touch. The delta must be positive. The buffer sentinel routes to
// the tracked buffer claim.
func (l *Ledger) Fill(bucket domain.BucketID, delta *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if delta.Sign() <= 0 {
		return fmt.Errorf("bucket: fill delta must be positive, got %s", delta)
	}
	if bucket == domain.BufferSentinel {
		l.bufferClaim.Add(l.bufferClaim, delta)
		return nil
	}

	cur, ok := l.claims[bucket]
	next := new(big.Int).Set(delta)
	if ok {
		next.Add(next, cur)
	}
	if err := l.checkDust(bucket, next); err != nil {
		return err
	}

	if !ok {
		l.pos[bucket] = len(l.list)
		l.list = append(l.list, bucket)
	}
	l.claims[bucket] = next
	return nil
}

// Wash removes claim units from a bucket. The delta must be positive.
// Removing the full claim compacts the enumeration list with swap-and-pop; a
// partial removal that would leave dust is rejected.
func (l *Ledger) Wash(bucket domain.BucketID, delta *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if delta.Sign() <= 0 {
		return fmt.Errorf("bucket: wash delta must be positive, got %s", delta)
	}
	if bucket == domain.BufferSentinel {
		if delta.Cmp(l.bufferClaim) > 0 {
			return fmt.Errorf("bucket: wash buffer claim %s below zero: %w", delta, domain.ErrLedgerUnderflow)
		}
		l.bufferClaim.Sub(l.bufferClaim, delta)
		return nil
	}

	cur, ok := l.claims[bucket]
	if !ok || delta.Cmp(cur) > 0 {
		return fmt.Errorf("bucket: wash %s from bucket %d holding %s: %w", delta, bucket, cur, domain.ErrLedgerUnderflow)
	}

	next := new(big.Int).Sub(cur, delta)
	if next.Sign() == 0 {
		l.remove(bucket)
		return nil
	}
	if err := l.checkDust(bucket, next); err != nil {
		return err
	}
	l.claims[bucket] = next
	return nil
}

// Reconcile syncs the local claim downward against the venue's authoritative
// claim, modeling venue-side loss events (bad debt) the engine must not
// overstate. It never adjusts upward. Returns the WAD loss delta, zero when
// the venue holds at least the local claim.
func (l *Ledger) Reconcile(bucket domain.BucketID, venueClaim *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.claims[bucket]
	if !ok || venueClaim.Cmp(cur) >= 0 {
		return new(big.Int)
	}

	loss := new(big.Int).Sub(cur, venueClaim)
	if venueClaim.Sign() == 0 {
		l.remove(bucket)
		return loss
	}
	l.claims[bucket] = new(big.Int).Set(venueClaim)
	return loss
}

// Claim returns the local claim for a bucket, zero when absent. The buffer
// sentinel returns the tracked buffer claim.
func (l *Ledger) Claim(bucket domain.BucketID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket == domain.BufferSentinel {
		return new(big.Int).Set(l.bufferClaim)
	}
	if cur, ok := l.claims[bucket]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// Buckets returns the enumerated non-empty buckets with their claims. Order
// follows the internal list and changes under swap-and-pop; callers must not
// rely on it.
func (l *Ledger) Buckets() []domain.BucketClaim {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.BucketClaim, 0, len(l.list))
	for _, id := range l.list {
		out = append(out, domain.BucketClaim{
			Bucket: id,
			Claim:  new(big.Int).Set(l.claims[id]),
		})
	}
	return out
}

// Len returns the number of non-empty buckets.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}

func (l *Ledger) checkDust(bucket domain.BucketID, next *big.Int) error {
	if next.Sign() != 0 && next.Cmp(l.dustFloor) < 0 {
		return fmt.Errorf("bucket %d claim %s below dust floor %s: %w", bucket, next, l.dustFloor, domain.ErrDustyPosition)
	}
	return nil
}

// remove deletes a bucket from the claim map and compacts the enumeration
// list by moving the last element into the vacated slot.
func (l *Ledger) remove(bucket domain.BucketID) {
	idx := l.pos[bucket]
	last := len(l.list) - 1
	if idx != last {
		moved := l.list[last]
		l.list[idx] = moved
		l.pos[moved] = idx
	}
	l.list = l.list[:last]
	delete(l.pos, bucket)
	delete(l.claims, bucket)
}
