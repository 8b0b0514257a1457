package core

import (
	"context"
	"time"

	"github.com/markdave123-py/Indexa/internal/models"
)

// DocumentStore defines all persistence operations the pipeline needs.
// It abstracts Postgres so higher layers never depend on a specific DB.
// The compare-and-set operations are the only cross-worker coordination
// primitive; no application-level locks exist anywhere else.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)

	// TransitionStatus updates status only if the row is currently in the
	// expected prior state. Returns false if the row was in another state,
	// which callers treat as losing a race, not as an error.
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)

	// SaveExtraction writes text, metadata and content hash under a
	// processing->indexing transition. Atomic: either the row moves to
	// indexing with all result fields set, or nothing changes.
	SaveExtraction(ctx context.Context, id string, text string, metadata map[string]string, contentHash string, retryCount int) (bool, error)

	// RecordRetry bumps the retry counter and records the failure while
	// moving processing->pending for re-enqueue.
	RecordRetry(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error)

	// MarkFailed moves the row to the terminal failed status with the
	// recorded error kind and message.
	MarkFailed(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error)

	// ResetDocument clears retry state and returns a failed document to
	// pending. Operator action, modeled as a fresh registration.
	ResetDocument(ctx context.Context, id string) (bool, error)
}

// ObjectClient defines interactions with S3 or any object storage holding
// the raw document bytes.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// Delivery is one claimed queue message. Ack destroys it; Nack makes it
// claimable again after the given delay. A delivery that is neither acked
// nor nacked is redelivered once its visibility timeout elapses.
type Delivery struct {
	Job  models.IngestionJob
	Ack  func() error
	Nack func(delay time.Duration) error
}

// TaskQueue carries ingestion jobs between producers and the worker pool.
// Delivery is at least once; consumers must be idempotent.
type TaskQueue interface {
	Enqueue(ctx context.Context, job models.IngestionJob) error
	// Claim blocks until a job is available or ctx is done.
	Claim(ctx context.Context) (*Delivery, error)
	Close() error
}

// SearchIndex receives the denormalized projection of each successfully
// processed document. Upserts are keyed by document id and must be
// idempotent for an unchanged content hash.
type SearchIndex interface {
	Upsert(ctx context.Context, entry models.IndexEntry) error
	Delete(ctx context.Context, documentID string) error
	// GetHash returns the stored content hash for a document id, or ""
	// if the document has no entry.
	GetHash(ctx context.Context, documentID string) (string, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error)
	Close() error
}
