package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// bucketRow is the JSONB shape of one persisted bucket claim. Claims are
// decimal strings so they survive any integer width.
type bucketRow struct {
	Bucket domain.BucketID `json:"bucket"`
	Claim  string          `json:"claim"`
}

// Save appends a new snapshot row. History is retained for audit; Latest
// always reads the newest row.
func (s *SnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	buckets := make([]bucketRow, 0, len(snap.Buckets))
	for _, c := range snap.Buckets {
		buckets = append(buckets, bucketRow{Bucket: c.Bucket, Claim: c.Claim.String()})
	}
	bucketsJSON, err := json.Marshal(buckets)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot buckets: %w", err)
	}

	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO snapshots (taken_at, buffer_total, mana_supply, share_supply, recovered_value, buckets)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.pool.Exec(ctx, query,
		takenAt,
		snap.BufferTotal.String(),
		snap.ManaSupply.String(),
		snap.ShareSupply.String(),
		snap.RecoveredValue.String(),
		bucketsJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or domain.ErrNotFound when none
// has been saved yet.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.Snapshot, error) {
	const query = `
		SELECT taken_at, buffer_total, mana_supply, share_supply, recovered_value, buckets
		FROM snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`

	var (
		snap        domain.Snapshot
		bufferTotal string
		manaSupply  string
		shareSupply string
		recovered   string
		bucketsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&snap.TakenAt, &bufferTotal, &manaSupply, &shareSupply, &recovered, &bucketsJSON,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}

	if snap.BufferTotal, err = parseWad(bufferTotal); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot buffer_total: %w", err)
	}
	if snap.ManaSupply, err = parseWad(manaSupply); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot mana_supply: %w", err)
	}
	if snap.ShareSupply, err = parseWad(shareSupply); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot share_supply: %w", err)
	}
	if snap.RecoveredValue, err = parseWad(recovered); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: snapshot recovered_value: %w", err)
	}

	var rows []bucketRow
	if err := json.Unmarshal(bucketsJSON, &rows); err != nil {
		return domain.Snapshot{}, fmt.Errorf("postgres: unmarshal snapshot buckets: %w", err)
	}
	snap.Buckets = make([]domain.BucketClaim, 0, len(rows))
	for _, r := range rows {
		claim, err := parseWad(r.Claim)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("postgres: snapshot bucket %d claim: %w", r.Bucket, err)
		}
		snap.Buckets = append(snap.Buckets, domain.BucketClaim{Bucket: r.Bucket, Claim: claim})
	}
	return snap, nil
}

func parseWad(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return v, nil
}
