package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in the archive store.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archive objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves journal rows older than the cutoff out of the database and
// into cold storage, returning how many rows moved. Upload must complete
// before any row is deleted.
type Archiver interface {
	ArchiveJournal(ctx context.Context, before time.Time) (int64, error)
}
