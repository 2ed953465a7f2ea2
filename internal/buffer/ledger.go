// Package buffer implements the internal liquid reserve ledger. The buffer
// holds a WAD quote balance and issues proportional internal shares, called
// mana, against it. Moving the underlying asset is the caller's job; the
// ledger is pure bookkeeping.
package buffer

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/wad"
)

// MaxTotal is the hard ceiling on the buffer's WAD balance (2^96). It is a
// safety rail against unbounded internal accumulation, independent of the
// policy-level deposit cap enforced outside the engine.
var MaxTotal = new(big.Int).Lsh(big.NewInt(1), 96)

// Ledger is the buffer state machine. Credit and Debit are mutually
// exclusive under a non-reentrant single-writer guard: a re-entrant call
// fails with ErrLockActive instead of blocking.
type Ledger struct {
	mu sync.Mutex

	total       *big.Int // WAD quote balance
	shareSupply *big.Int // WAD mana supply
}

// NewLedger creates an empty buffer ledger.
func NewLedger() *Ledger {
	return &Ledger{
		total:       new(big.Int),
		shareSupply: new(big.Int),
	}
}

// Restore loads persisted totals into a fresh ledger.
func Restore(total, shareSupply *big.Int) *Ledger {
	return &Ledger{
		total:       new(big.Int).Set(total),
		shareSupply: new(big.Int).Set(shareSupply),
	}
}

// Credit adds quote value to the buffer and mints mana. The amount must be
// positive. The first credit bootstraps 1:1; later credits mint through a
// RAY-precision share price so truncation never biases toward the ledger.
// Returns the mana minted.
func (l *Ledger) Credit(amount *big.Int) (*big.Int, error) {
	if !l.mu.TryLock() {
		return nil, domain.ErrLockActive
	}
	defer l.mu.Unlock()

	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("buffer: credit amount must be positive, got %s", amount)
	}

	newTotal := new(big.Int).Add(l.total, amount)
	if newTotal.Cmp(MaxTotal) > 0 {
		return nil, fmt.Errorf("buffer: credit %s exceeds hard ceiling: %w", amount, domain.ErrCapacityExceeded)
	}

	var minted *big.Int
	if l.shareSupply.Sign() == 0 {
		minted = new(big.Int).Set(amount)
	} else {
		// sharePrice = total * RAY / supply; minted = amount * RAY / sharePrice.
		price := wad.MulDiv(l.total, wad.Ray, l.shareSupply)
		minted = wad.MulDiv(amount, wad.Ray, price)
	}

	l.total = newTotal
	l.shareSupply.Add(l.shareSupply, minted)
	return minted, nil
}

// Debit removes quote value from the buffer, burning mana rounded up so the
// redeemer can never dilute remaining holders. The amount must be positive
// and covered by the balance; a debit beyond the balance is a fatal
// consistency violation, not a recoverable error.
func (l *Ledger) Debit(amount *big.Int) (*big.Int, error) {
	if !l.mu.TryLock() {
		return nil, domain.ErrLockActive
	}
	defer l.mu.Unlock()

	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("buffer: debit amount must be positive, got %s", amount)
	}
	if amount.Cmp(l.total) > 0 {
		return nil, fmt.Errorf("buffer: debit %s exceeds total %s: %w", amount, l.total, domain.ErrLedgerUnderflow)
	}

	burned := wad.MulDivCeil(amount, l.shareSupply, l.total)
	if burned.Cmp(l.shareSupply) > 0 {
		burned = new(big.Int).Set(l.shareSupply)
	}

	l.total.Sub(l.total, amount)
	l.shareSupply.Sub(l.shareSupply, burned)
	return burned, nil
}

// ValueOf returns the quote value of the given mana, rounded down. Zero
// shares or zero supply value to zero.
func (l *Ledger) ValueOf(shares *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if shares.Sign() == 0 || l.shareSupply.Sign() == 0 {
		return new(big.Int)
	}
	return wad.MulDiv(shares, l.total, l.shareSupply)
}

// Total returns the buffer's WAD quote balance.
func (l *Ledger) Total() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.total)
}

// ShareSupply returns the outstanding mana supply.
func (l *Ledger) ShareSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.shareSupply)
}
