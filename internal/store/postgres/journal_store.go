package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalCols = `id, kind, caller, bucket, from_bucket, amount_wad, shares_wad,
	succeeded, error_class, error_msg, created_at`

func scanJournalRow(row pgx.Row) (domain.JournalEntry, error) {
	var (
		e          domain.JournalEntry
		caller     string
		bucket     *int64
		fromBucket *int64
		errClass   *string
	)
	if err := row.Scan(
		&e.ID, &e.Kind, &caller, &bucket, &fromBucket,
		&e.AmountWad, &e.SharesWad, &e.Succeeded, &errClass, &e.ErrorMsg,
		&e.CreatedAt,
	); err != nil {
		return domain.JournalEntry{}, err
	}
	e.Caller = common.HexToAddress(caller)
	if bucket != nil {
		b := domain.BucketID(*bucket)
		e.Bucket = &b
	}
	if fromBucket != nil {
		b := domain.BucketID(*fromBucket)
		e.FromBucket = &b
	}
	if errClass != nil {
		e.ErrorClass = domain.ErrorClass(*errClass)
	}
	return e, nil
}

func scanJournalRows(rows pgx.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		e, err := scanJournalRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Append inserts a journal entry. Entries are immutable once written.
func (s *JournalStore) Append(ctx context.Context, e domain.JournalEntry) error {
	var bucket, fromBucket *int64
	if e.Bucket != nil {
		v := int64(*e.Bucket)
		bucket = &v
	}
	if e.FromBucket != nil {
		v := int64(*e.FromBucket)
		fromBucket = &v
	}
	var errClass *string
	if e.ErrorClass != "" {
		v := string(e.ErrorClass)
		errClass = &v
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO journal (
			id, kind, caller, bucket, from_bucket, amount_wad, shares_wad,
			succeeded, error_class, error_msg, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		e.ID, string(e.Kind), e.Caller.Hex(), bucket, fromBucket,
		e.AmountWad, e.SharesWad, e.Succeeded, errClass, e.ErrorMsg, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append journal entry %s: %w", e.ID, err)
	}
	return nil
}

// GetByID retrieves a journal entry by its primary key.
func (s *JournalStore) GetByID(ctx context.Context, id string) (domain.JournalEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+journalCols+` FROM journal WHERE id = $1`, id)
	e, err := scanJournalRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.JournalEntry{}, domain.ErrNotFound
		}
		return domain.JournalEntry{}, fmt.Errorf("postgres: get journal entry %s: %w", id, err)
	}
	return e, nil
}

// List returns journal entries with pagination and optional time filtering,
// newest first.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	return s.list(ctx, "", opts)
}

// ListByKind returns journal entries of one operation kind, newest first.
func (s *JournalStore) ListByKind(ctx context.Context, kind domain.OpKind, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	return s.list(ctx, kind, opts)
}

func (s *JournalStore) list(ctx context.Context, kind domain.OpKind, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query := `SELECT ` + journalCols + ` FROM journal WHERE 1=1`
	args := []any{}
	argIdx := 1

	if kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(kind))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal entries: %w", err)
	}
	return entries, nil
}

// ListBefore returns entries older than the cutoff, oldest first (for archiving).
func (s *JournalStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.JournalEntry, error) {
	query := `SELECT ` + journalCols + ` FROM journal WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal before: %w", err)
	}
	defer rows.Close()
	return scanJournalRows(rows)
}

// DeleteBefore deletes entries older than the cutoff. Returns the number deleted.
func (s *JournalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journal WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete journal before: %w", err)
	}
	return tag.RowsAffected(), nil
}
