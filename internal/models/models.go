package models

import (
	"time"
)

// Document processing statuses. The row in the documents table is the
// source of truth; every transition is applied with a compare-and-set
// against the expected prior status.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexing   = "indexing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// Document represents a registered document and its processing state.
type Document struct {
	ID           string            `db:"id" json:"id"`
	FileName     string            `db:"file_name" json:"file_name"`
	StorageURL   string            `db:"storage_url" json:"storage_url"` // S3 URL of the raw bytes
	DeclaredMime string            `db:"declared_mime" json:"declared_mime"`
	Status       string            `db:"status" json:"status"`
	Text         string            `db:"extracted_text" json:"extracted_text,omitempty"`
	Metadata     map[string]string `db:"metadata" json:"metadata,omitempty"` // page_count, language, ocr_confidence...
	ContentHash  string            `db:"content_hash" json:"content_hash,omitempty"`
	RetryCount   int               `db:"retry_count" json:"retry_count"`
	LastErrKind  string            `db:"last_error_kind" json:"last_error_kind,omitempty"`
	LastErrMsg   string            `db:"last_error_message" json:"last_error_message,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// IngestionJob is the queue message carried between the registration side
// and the worker pool. It is a work ticket delivered at least once, never
// a source of truth; workers always re-read the document row first.
type IngestionJob struct {
	DocumentID   string    `json:"document_id"`
	DeclaredMime string    `json:"declared_mime"`
	RetryCount   int       `json:"retry_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// IndexEntry is the denormalized projection of a document written to the
// search index. ContentHash must equal the hash of the document's current
// extracted text, or the entry is stale.
type IndexEntry struct {
	DocumentID  string            `json:"document_id"`
	Text        string            `json:"text"`
	FileName    string            `json:"file_name"`
	Mime        string            `json:"mime"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentHash string            `json:"content_hash"`
}

// SearchHit is one match returned by a search index query.
type SearchHit struct {
	DocumentID  string  `json:"document_id"`
	FileName    string  `json:"file_name"`
	Mime        string  `json:"mime"`
	ContentHash string  `json:"content_hash"`
	Score       float64 `json:"score"`
	Fragment    string  `json:"fragment,omitempty"`
}
