package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
	"github.com/markdave123-py/Indexa/pkg/logger"
)

// Coordinator owns every document status transition and the reconciliation
// between the document store and the search index. Transitions are applied
// with compare-and-set on the document row, so two workers racing on a
// redelivered job cannot double-apply a result.
type Coordinator struct {
	store core.DocumentStore
	index core.SearchIndex
	queue core.TaskQueue
}

func NewCoordinator(store core.DocumentStore, index core.SearchIndex, queue core.TaskQueue) *Coordinator {
	return &Coordinator{store: store, index: index, queue: queue}
}

// HashText is the content hash tying a search index entry to the extracted
// text it was built from.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Register creates the document row in pending and enqueues the first
// ingestion job. Returns immediately; processing is asynchronous.
func (c *Coordinator) Register(ctx context.Context, doc *models.Document) error {
	doc.Status = models.StatusPending
	if err := c.store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	job := models.IngestionJob{
		DocumentID:   doc.ID,
		DeclaredMime: doc.DeclaredMime,
		EnqueuedAt:   time.Now(),
	}
	if err := c.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Reset returns a failed document to pending with a cleared retry budget
// and enqueues a fresh job. The operator-facing escape hatch for terminal
// failures.
func (c *Coordinator) Reset(ctx context.Context, id string) (bool, error) {
	ok, err := c.store.ResetDocument(ctx, id)
	if err != nil {
		return false, fmt.Errorf("reset document: %w", err)
	}
	if !ok {
		return false, nil
	}
	doc, err := c.store.GetDocumentByID(ctx, id)
	if err != nil || doc == nil {
		return false, fmt.Errorf("reload after reset: %w", err)
	}
	job := models.IngestionJob{
		DocumentID:   id,
		DeclaredMime: doc.DeclaredMime,
		EnqueuedAt:   time.Now(),
	}
	if err := c.queue.Enqueue(ctx, job); err != nil {
		return false, fmt.Errorf("enqueue after reset: %w", err)
	}
	return true, nil
}

// BeginProcessing claims the pending document for a worker. A false return
// means another worker got there first or the document is no longer
// eligible; the caller treats that as an idempotent no-op.
func (c *Coordinator) BeginProcessing(ctx context.Context, id string) (bool, error) {
	ok, err := c.store.TransitionStatus(ctx, id, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return false, core.NewFailure(core.KindStoreUnavailable, true, "transition to processing: %v", err)
	}
	return ok, nil
}

// CommitExtraction persists a successful extraction result and moves the
// document through indexing into indexed. The store write (processing ->
// indexing, text + metadata + hash in one update) is the durability point:
// a crash anywhere after it never forces re-extraction.
func (c *Coordinator) CommitExtraction(ctx context.Context, doc *models.Document, res *core.ExtractResult) error {
	hash := HashText(res.Text)
	ok, err := c.store.SaveExtraction(ctx, doc.ID, res.Text, res.Metadata, hash, doc.RetryCount)
	if err != nil {
		return core.NewFailure(core.KindStoreUnavailable, true, "save extraction: %v", err)
	}
	if !ok {
		// Lost the race to a concurrent worker; its result stands.
		logger.Info(ctx, "extraction result discarded, row not in processing", "document_id", doc.ID)
		return nil
	}

	doc.Text = res.Text
	doc.Metadata = res.Metadata
	doc.ContentHash = hash
	return c.FinishIndexing(ctx, doc)
}

// FinishIndexing projects the stored text into the search index and closes
// the lifecycle with the indexing -> indexed transition. The transition is
// applied only after the written entry's hash is verified against the text
// just stored; this is the single correctness checkpoint against drift.
// On an index write failure the document falls back to processing so the
// next attempt retries only the projection, not the extraction.
func (c *Coordinator) FinishIndexing(ctx context.Context, doc *models.Document) error {
	entry := models.IndexEntry{
		DocumentID:  doc.ID,
		Text:        doc.Text,
		FileName:    doc.FileName,
		Mime:        doc.DeclaredMime,
		Metadata:    doc.Metadata,
		ContentHash: doc.ContentHash,
	}

	if err := c.index.Upsert(ctx, entry); err != nil {
		c.indexingFallback(ctx, doc.ID)
		return core.AsFailure(err)
	}

	stored, err := c.index.GetHash(ctx, doc.ID)
	if err != nil {
		c.indexingFallback(ctx, doc.ID)
		return core.NewFailure(core.KindIndexWriteFailure, true, "verify entry hash: %v", err)
	}
	if stored != doc.ContentHash {
		c.indexingFallback(ctx, doc.ID)
		return core.NewFailure(core.KindIndexWriteFailure, true,
			"index hash mismatch for %s: stored %s want %s", doc.ID, stored, doc.ContentHash)
	}

	ok, err := c.store.TransitionStatus(ctx, doc.ID, models.StatusIndexing, models.StatusIndexed)
	if err != nil {
		return core.NewFailure(core.KindStoreUnavailable, true, "transition to indexed: %v", err)
	}
	if !ok {
		logger.Info(ctx, "indexed transition skipped, row not in indexing", "document_id", doc.ID)
	}
	return nil
}

// RetryLater records a retryable failure and returns the document to
// pending so the job can be redelivered after backoff.
func (c *Coordinator) RetryLater(ctx context.Context, id string, retryCount int, f *core.Failure) error {
	_, err := c.store.RecordRetry(ctx, id, retryCount, string(f.Kind), f.Message)
	if err != nil {
		return core.NewFailure(core.KindStoreUnavailable, true, "record retry: %v", err)
	}
	return nil
}

// Fail moves the document to the terminal failed status with the recorded
// error, visible to callers through the document's status and last-error
// fields.
func (c *Coordinator) Fail(ctx context.Context, id string, retryCount int, f *core.Failure) error {
	_, err := c.store.MarkFailed(ctx, id, retryCount, string(f.Kind), f.Message)
	if err != nil {
		return core.NewFailure(core.KindStoreUnavailable, true, "mark failed: %v", err)
	}
	return nil
}

// indexingFallback returns an indexing document to processing after an
// index write failure. Best effort: if the CAS loses, someone else already
// moved the row.
func (c *Coordinator) indexingFallback(ctx context.Context, id string) {
	if _, err := c.store.TransitionStatus(ctx, id, models.StatusIndexing, models.StatusProcessing); err != nil {
		logger.Error(ctx, "indexing fallback transition failed", "document_id", id, "error", err)
	}
}
