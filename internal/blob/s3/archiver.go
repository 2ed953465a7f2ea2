package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// JournalArchiveStore is the narrow slice of the journal store the archiver
// needs: time-ranged reads and the post-upload delete.
type JournalArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.JournalEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// journalBatchSize bounds how many rows one archive file holds so a long
// backlog never builds a single oversized upload.
const journalBatchSize = 10_000

// JournalArchiver implements domain.Archiver: it drains old journal rows to
// JSONL files in object storage, then deletes them from the primary store.
// Rows are only deleted after their batch has been uploaded, so a failed
// upload leaves the journal intact.
type JournalArchiver struct {
	writer  domain.BlobWriter
	journal JournalArchiveStore
}

// NewJournalArchiver creates a JournalArchiver.
func NewJournalArchiver(writer domain.BlobWriter, journal JournalArchiveStore) *JournalArchiver {
	return &JournalArchiver{writer: writer, journal: journal}
}

// ArchiveJournal uploads all journal entries created before the cutoff and
// deletes them from the store. Returns the number of entries archived.
func (a *JournalArchiver) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for batch := 0; ; batch++ {
		entries, err := a.journal.ListBefore(ctx, before, journalBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive journal query: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive journal marshal: %w", err)
		}

		path := archivePath(before, batch)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive journal upload: %w", err)
		}

		// Delete exactly what this batch covered. Entries come back oldest
		// first, so the last entry's timestamp bounds the batch.
		cutoff := entries[len(entries)-1].CreatedAt.Add(time.Nanosecond)
		if cutoff.After(before) {
			cutoff = before
		}
		deleted, err := a.journal.DeleteBefore(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive journal delete: %w", err)
		}
		total += deleted

		if len(entries) < journalBatchSize {
			break
		}
	}
	return total, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/journal/2026-08.0.jsonl
func archivePath(before time.Time, batch int) string {
	return fmt.Sprintf("archive/journal/%s.%d.jsonl", before.Format("2006-01"), batch)
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*JournalArchiver)(nil)
