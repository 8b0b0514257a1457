package core

import "context"

// ExtractResult is the transient value produced by an extractor adapter:
// the plain text of the document plus whatever structured metadata the
// format yields (page count, language, OCR confidence).
type ExtractResult struct {
	Text     string
	Metadata map[string]string
}

// Extractor is the uniform capability every format adapter implements.
// Adapters are pure with respect to external state: same input bytes give
// the same output, modulo OCR engine nondeterminism. They never touch the
// document store or the search index.
type Extractor interface {
	// Extract converts raw bytes into plain text and metadata. The
	// declaredMime hint selects the parsing strategy inside the adapter.
	// Failures must be returned as *Failure so the worker can classify
	// them for retry.
	Extract(ctx context.Context, content []byte, declaredMime string) (*ExtractResult, error)
}
