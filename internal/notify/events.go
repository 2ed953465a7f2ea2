package notify

import (
	"context"
	"fmt"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// Event types emitted by the vault service. Operators list the subset they
// want in configuration; an empty list forwards everything.
const (
	EventRestrictedEntered = "restricted_entered"
	EventRestrictedCleared = "restricted_cleared"
	EventReconcileLoss     = "reconcile_loss"
	EventRebalanceExecuted = "rebalance_executed"
	EventOperationFailed   = "operation_failed"
)

// RestrictedEntered reports the vault entering the restricted state.
func (n *Notifier) RestrictedEntered(ctx context.Context, reason domain.RestrictedReason) error {
	return n.Notify(ctx, EventRestrictedEntered, "Vault restricted",
		fmt.Sprintf("admin_paused=%t recovery_outstanding=%t", reason.AdminPaused, reason.RecoveryOutstanding))
}

// RestrictedCleared reports the vault returning to the active state.
func (n *Notifier) RestrictedCleared(ctx context.Context) error {
	return n.Notify(ctx, EventRestrictedCleared, "Vault active",
		"all restriction triggers cleared")
}

// ReconcileLoss reports a downward reconciliation against the venue.
func (n *Notifier) ReconcileLoss(ctx context.Context, bucket domain.BucketID, lossWad string) error {
	return n.Notify(ctx, EventReconcileLoss, "Reconcile loss",
		fmt.Sprintf("bucket=%d loss_wad=%s", bucket, lossWad))
}

// RebalanceExecuted reports a completed liquidity movement.
func (n *Notifier) RebalanceExecuted(ctx context.Context, kind domain.OpKind, bucket domain.BucketID, amountWad string) error {
	return n.Notify(ctx, EventRebalanceExecuted, "Rebalance executed",
		fmt.Sprintf("kind=%s bucket=%d amount_wad=%s", kind, bucket, amountWad))
}

// OperationFailed reports a failed engine operation with its error class.
func (n *Notifier) OperationFailed(ctx context.Context, kind domain.OpKind, class domain.ErrorClass, msg string) error {
	return n.Notify(ctx, EventOperationFailed, "Operation failed",
		fmt.Sprintf("kind=%s class=%s error=%s", kind, class, msg))
}
