package extract

import (
	"context"
	"time"

	"github.com/markdave123-py/Indexa/internal/core"
)

// Registry selects the adapter for a declared mime type. Selection is a
// static lookup; an unmapped mime is a non-retryable UnsupportedFormat
// failure before any native tool runs.
type Registry struct {
	adapters map[string]core.Extractor
	timeout  time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		adapters: make(map[string]core.Extractor),
		timeout:  timeout,
	}
}

// Register maps a mime type to an adapter. Later registrations win, which
// lets callers override a default adapter for specific types.
func (r *Registry) Register(mime string, e core.Extractor) {
	r.adapters[mime] = e
}

// Supported reports whether a mime type has a mapped adapter.
func (r *Registry) Supported(mime string) bool {
	_, ok := r.adapters[mime]
	return ok
}

var _ core.Extractor = (*Registry)(nil)

// Extract dispatches to the mapped adapter under the configured hard
// timeout. Exceeding the budget yields a retryable ExtractionTimeout; the
// abandoned adapter goroutine is left to finish on its own since native
// converters cannot be interrupted mid-call.
func (r *Registry) Extract(ctx context.Context, content []byte, declaredMime string) (*core.ExtractResult, error) {
	adapter, ok := r.adapters[declaredMime]
	if !ok {
		return nil, core.NewFailure(core.KindUnsupportedFormat, false, "no adapter for mime type %q", declaredMime)
	}

	if r.timeout <= 0 {
		return adapter.Extract(ctx, content, declaredMime)
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		res *core.ExtractResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := adapter.Extract(tctx, content, declaredMime)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewFailure(core.KindExtractionTimeout, true, "extraction exceeded %s for mime type %q", r.timeout, declaredMime)
	}
}

// DefaultRegistry wires every adapter this build ships with, keyed by the
// mime types the pipeline accepts.
func DefaultRegistry(timeout time.Duration) *Registry {
	r := NewRegistry(timeout)

	office := NewDocconvExtractor()
	for _, m := range []string{
		"text/plain",
		"text/html",
		"text/rtf",
		"application/rtf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	} {
		r.Register(m, office)
	}

	ocr := NewOCRExtractor()
	for _, m := range []string{
		"image/png",
		"image/jpeg",
		"image/tiff",
	} {
		r.Register(m, ocr)
	}

	r.Register("application/pdf", NewPDFExtractor())

	djvu := NewDjvuExtractor("")
	r.Register("image/vnd.djvu", djvu)
	r.Register("image/x-djvu", djvu)

	return r
}
