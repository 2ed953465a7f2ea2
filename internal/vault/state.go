package vault

import (
	"context"
	"fmt"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// State derives the vault's operating state from its two independent
// restriction triggers: the policy collaborator's administrative pause flag
// and a nonzero out-of-band recovered value. The vault is Active only when
// both are clear; an administrative unpause alone does not lift a
// restriction while recovered value is outstanding.
func (e *Engine) State(ctx context.Context) (domain.VaultState, domain.RestrictedReason, error) {
	paused, err := e.policy.Paused(ctx)
	if err != nil {
		return domain.StateRestricted, domain.RestrictedReason{}, fmt.Errorf("vault: read pause flag: %w", err)
	}

	e.mu.Lock()
	outstanding := e.recovered.Sign() != 0
	e.mu.Unlock()

	reason := domain.RestrictedReason{
		AdminPaused:         paused,
		RecoveryOutstanding: outstanding,
	}
	if reason.Restricted() {
		return domain.StateRestricted, reason, nil
	}
	return domain.StateActive, reason, nil
}

// requireActive rejects with ErrRestricted while either restriction trigger
// is set. Called before any mutation in entry, exit, and rebalance paths.
func (e *Engine) requireActive(ctx context.Context) error {
	state, reason, err := e.State(ctx)
	if err != nil {
		return err
	}
	if state == domain.StateRestricted {
		return fmt.Errorf("vault: admin_paused=%t recovery_outstanding=%t: %w",
			reason.AdminPaused, reason.RecoveryOutstanding, domain.ErrRestricted)
	}
	return nil
}
