package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore persists point-in-time engine ledger state. Latest wins; the
// history is kept for audit until archived.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (Snapshot, error)
}

// JournalStore persists the append-only operation journal.
type JournalStore interface {
	Append(ctx context.Context, entry JournalEntry) error
	GetByID(ctx context.Context, id string) (JournalEntry, error)
	List(ctx context.Context, opts ListOpts) ([]JournalEntry, error)
	ListByKind(ctx context.Context, kind OpKind, opts ListOpts) ([]JournalEntry, error)
	// ListBefore returns entries older than the cutoff, oldest first, for
	// archiving to cold storage.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]JournalEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
