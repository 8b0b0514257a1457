package core

import "fmt"

// FailureKind classifies why a piece of pipeline work did not complete.
type FailureKind string

const (
	// KindUnsupportedFormat means no adapter is mapped for the declared
	// mime type. Never retried.
	KindUnsupportedFormat FailureKind = "unsupported_format"
	// KindExtractionTimeout means an adapter exceeded its time budget.
	KindExtractionTimeout FailureKind = "extraction_timeout"
	// KindExtractionCrash means the native conversion tool failed.
	KindExtractionCrash FailureKind = "extraction_crash"
	// KindStoreUnavailable means the document store was unreachable.
	KindStoreUnavailable FailureKind = "store_unavailable"
	// KindIndexWriteFailure means the search index rejected the projection.
	// Isolated to the indexing stage so extraction is not repeated.
	KindIndexWriteFailure FailureKind = "index_write_failure"
)

// Failure is a classified pipeline error. Retryable failures are re-enqueued
// until the retry budget is exhausted; the rest go straight to a terminal
// failed status.
type Failure struct {
	Kind      FailureKind
	Message   string
	Retryable bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFailure builds a Failure with a formatted message.
func NewFailure(kind FailureKind, retryable bool, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// AsFailure unwraps err into a *Failure. Unclassified errors are treated as
// retryable extraction crashes so a transient bug never strands a document.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok {
		return f
	}
	return &Failure{Kind: KindExtractionCrash, Message: err.Error(), Retryable: true}
}
