package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
	"github.com/markdave123-py/Indexa/pkg/logger"
)

// maxConsecutiveInfraFailures is how many infrastructure errors in a row a
// worker tolerates before halting its claim loop. Failing closed beats
// silently dropping jobs against a dead store.
const maxConsecutiveInfraFailures = 5

// maxBackoff caps the exponential retry delay.
const maxBackoff = 5 * time.Minute

// WorkerConfig tunes the ingestion worker pool.
//
// Workers:      fixed pool size.
// MaxAttempts:  retry budget; a document whose extraction keeps failing
//               retryably goes terminal after exactly this many attempts.
// RetryBackoff: base delay, doubled per recorded retry.
// Bucket:       object storage bucket holding raw document bytes.
type WorkerConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	Bucket       string
}

// WorkerPool consumes ingestion jobs and drives documents through the
// coordinator's state machine. Workers share no in-process mutable state;
// all coordination happens through the queue and the document store's
// row-level compare-and-set.
type WorkerPool struct {
	coord     *Coordinator
	store     core.DocumentStore
	queue     core.TaskQueue
	obj       core.ObjectClient
	extractor core.Extractor
	cfg       WorkerConfig
}

func NewWorkerPool(coord *Coordinator, store core.DocumentStore, queue core.TaskQueue, obj core.ObjectClient, extractor core.Extractor, cfg WorkerConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	return &WorkerPool{coord: coord, store: store, queue: queue, obj: obj, extractor: extractor, cfg: cfg}
}

// Run blocks until ctx is canceled or a worker halts on persistent
// infrastructure failure.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= p.cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			wctx := context.WithValue(gctx, logger.WorkerIDKey, w)
			return p.claimLoop(wctx)
		})
	}
	return g.Wait()
}

func (p *WorkerPool) claimLoop(ctx context.Context) error {
	infraFailures := 0
	for {
		d, err := p.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info(ctx, "worker shutting down")
				return nil
			}
			infraFailures++
			logger.Error(ctx, "queue claim failed", "error", err, "consecutive", infraFailures)
			if infraFailures >= maxConsecutiveInfraFailures {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.cfg.RetryBackoff):
			}
			continue
		}

		jctx := context.WithValue(ctx, logger.DocumentIDKey, d.Job.DocumentID)
		if err := p.processOne(jctx, d); err != nil {
			infraFailures++
			logger.Error(jctx, "infrastructure failure while processing", "error", err, "consecutive", infraFailures)
			if infraFailures >= maxConsecutiveInfraFailures {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.cfg.RetryBackoff):
			}
			continue
		}
		infraFailures = 0
	}
}

// processOne handles a single delivery. The error return is reserved for
// infrastructure failures that should count toward halting the loop;
// document-level failures are absorbed into the document's own state.
func (p *WorkerPool) processOne(ctx context.Context, d *core.Delivery) error {
	doc, err := p.store.GetDocumentByID(ctx, d.Job.DocumentID)
	if err != nil {
		_ = d.Nack(0)
		return core.NewFailure(core.KindStoreUnavailable, true, "load document: %v", err)
	}
	if doc == nil {
		// Job for a document that no longer exists; drop it.
		logger.Warn(ctx, "job references unknown document, discarding")
		return d.Ack()
	}

	switch doc.Status {
	case models.StatusIndexed, models.StatusFailed:
		// Duplicate delivery for a settled document: idempotent no-op.
		logger.Debug(ctx, "discarding job for settled document", "status", doc.Status)
		return d.Ack()

	case models.StatusIndexing:
		// A worker died between the extraction write and the index write.
		return p.settle(ctx, d, doc, p.coord.FinishIndexing(ctx, doc))

	case models.StatusPending:
		ok, err := p.coord.BeginProcessing(ctx, doc.ID)
		if err != nil {
			_ = d.Nack(0)
			return err
		}
		if !ok {
			// Another worker claimed it first.
			logger.Debug(ctx, "lost claim race, discarding job")
			return d.Ack()
		}
		return p.extractAndCommit(ctx, d, doc)

	case models.StatusProcessing:
		// Visibility-timeout restart. Only a successful store write
		// advances status, so re-running here is safe.
		if doc.Text != "" && doc.ContentHash != "" {
			// Extraction already persisted; retry only the projection.
			res := &core.ExtractResult{Text: doc.Text, Metadata: doc.Metadata}
			return p.settle(ctx, d, doc, p.coord.CommitExtraction(ctx, doc, res))
		}
		return p.extractAndCommit(ctx, d, doc)

	default:
		logger.Warn(ctx, "document in unknown status, discarding job", "status", doc.Status)
		return d.Ack()
	}
}

// supportChecker is implemented by the adapter registry. When the extractor
// exposes it, the worker rejects unmapped mime types before fetching any
// bytes from object storage.
type supportChecker interface {
	Supported(mime string) bool
}

func (p *WorkerPool) extractAndCommit(ctx context.Context, d *core.Delivery, doc *models.Document) error {
	if sc, ok := p.extractor.(supportChecker); ok && !sc.Supported(doc.DeclaredMime) {
		f := core.NewFailure(core.KindUnsupportedFormat, false, "no adapter for mime type %q", doc.DeclaredMime)
		return p.handleExtractionFailure(ctx, d, doc, f)
	}

	raw, err := p.fetchContent(ctx, doc)
	if err != nil {
		_ = d.Nack(p.cfg.RetryBackoff)
		return core.NewFailure(core.KindStoreUnavailable, true, "fetch raw content: %v", err)
	}

	res, err := p.extractor.Extract(ctx, raw, doc.DeclaredMime)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-extraction; give the job back.
			_ = d.Nack(0)
			return nil
		}
		return p.handleExtractionFailure(ctx, d, doc, core.AsFailure(err))
	}

	logger.Info(ctx, "extraction succeeded", "mime", doc.DeclaredMime, "attempt", doc.RetryCount+1, "chars", len(res.Text))
	return p.settle(ctx, d, doc, p.coord.CommitExtraction(ctx, doc, res))
}

func (p *WorkerPool) handleExtractionFailure(ctx context.Context, d *core.Delivery, doc *models.Document, f *core.Failure) error {
	if !f.Retryable {
		logger.Warn(ctx, "extraction failed terminally", "kind", f.Kind, "error", f.Message)
		if err := p.coord.Fail(ctx, doc.ID, doc.RetryCount, f); err != nil {
			_ = d.Nack(0)
			return err
		}
		return d.Ack()
	}

	attempts := doc.RetryCount + 1
	if attempts >= p.cfg.MaxAttempts {
		logger.Warn(ctx, "retry budget exhausted", "kind", f.Kind, "attempts", attempts, "error", f.Message)
		if err := p.coord.Fail(ctx, doc.ID, attempts, f); err != nil {
			_ = d.Nack(0)
			return err
		}
		return d.Ack()
	}

	logger.Info(ctx, "retryable extraction failure", "kind", f.Kind, "attempt", attempts, "error", f.Message)
	if err := p.coord.RetryLater(ctx, doc.ID, attempts, f); err != nil {
		_ = d.Nack(0)
		return err
	}
	return d.Nack(p.backoff(attempts))
}

// settle finishes a delivery after a commit or projection attempt. Index
// write failures keep the ticket alive without consuming the extraction
// retry budget; store failures bubble up as infrastructure errors.
func (p *WorkerPool) settle(ctx context.Context, d *core.Delivery, doc *models.Document, err error) error {
	if err == nil {
		return d.Ack()
	}
	f := core.AsFailure(err)
	switch f.Kind {
	case core.KindStoreUnavailable:
		_ = d.Nack(0)
		return f
	case core.KindIndexWriteFailure:
		logger.Warn(ctx, "index write failed, will retry projection", "error", f.Message)
		return d.Nack(p.cfg.RetryBackoff)
	default:
		return p.handleExtractionFailure(ctx, d, doc, f)
	}
}

func (p *WorkerPool) backoff(attempt int) time.Duration {
	delay := p.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// fetchContent loads the raw bytes behind the document's storage URL.
func (p *WorkerPool) fetchContent(ctx context.Context, doc *models.Document) ([]byte, error) {
	bucket, key := parseStorageURL(doc.StorageURL)
	if bucket == "" {
		bucket = p.cfg.Bucket
	}
	if key == "" {
		return nil, errors.New("storage URL has no object key")
	}
	return p.obj.GetFile(ctx, bucket, key)
}

// parseStorageURL extracts the bucket and key from a virtual-hosted-style
// S3 URL, e.g. https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf
func parseStorageURL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}
