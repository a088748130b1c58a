package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

// Job runs the per-document AI ingestion state machine:
// pending -> processing -> completed | failed.
type Job struct {
	docs      core.DocumentStore
	processor *DocumentProcessor
	extractor core.TextExtractor
	index     core.SearchIndex // optional
	backend   core.Backend
	cfg       JobConfig
	now       func() time.Time
	logger    *slog.Logger

	jobs  chan string
	mu    sync.Mutex
	group *errgroup.Group
}

// NewJob wires the job. index may be nil, in which case keyword indexing is skipped.
func NewJob(
	docs core.DocumentStore,
	processor *DocumentProcessor,
	extractor core.TextExtractor,
	index core.SearchIndex,
	backend core.Backend,
	cfg JobConfig,
) *Job {
	cfg = cfg.withDefaults()
	return &Job{
		docs:      docs,
		processor: processor,
		extractor: extractor,
		index:     index,
		backend:   backend,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "ingestion_job"),
		jobs:      make(chan string, cfg.QueueSize),
	}
}

// Run ingests one document. Documents already processing or completed are left untouched.
// Any failure after the claim is recorded on the document as failed and returned.
func (j *Job) Run(ctx context.Context, docID string) error {
	doc, err := j.docs.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Status == models.StatusCompleted || doc.Status == models.StatusProcessing {
		j.logger.Debug("document skipped", "document_id", docID, "status", doc.Status)
		return nil
	}

	claimed, err := j.docs.ClaimDocument(ctx, docID)
	if err != nil {
		return err
	}
	if !claimed {
		j.logger.Debug("document claimed elsewhere", "document_id", docID)
		return nil
	}
	doc.Status = models.StatusProcessing

	if err := j.ingest(ctx, doc); err != nil {
		return j.fail(ctx, doc, err)
	}
	return nil
}

func (j *Job) ingest(ctx context.Context, doc *models.Document) error {
	logger := j.logger.With("document_id", doc.ID, "tenant_id", doc.TenantID)

	if !j.extractor.Supports(doc.ContentType) {
		logger.Info("content type not extractable, nothing to do", "content_type", doc.ContentType)
		return j.complete(ctx, doc)
	}

	res, err := j.extractor.Extract(ctx, doc.StorageURL, doc.ContentType)
	if errors.Is(err, core.ErrUnsupportedType) {
		logger.Info("extractor rejected content type", "content_type", doc.ContentType)
		return j.complete(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(res.Text) == "" {
		logger.Info("extraction produced no text")
		return j.complete(ctx, doc)
	}

	doc.ExtractedText = res.Text
	doc.WordCount = res.WordCount
	if err := j.docs.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("save extracted text: %w", err)
	}

	if doc.TenantID != "" {
		result, err := j.processor.Replace(ctx, doc.ID, doc.TenantID, res.Text)
		if err != nil {
			return fmt.Errorf("chunk and embed: %w", err)
		}
		doc.ChunkCount = result.ChunksCreated
		doc.EmbeddingDim = result.EmbeddingDim
	} else {
		logger.Warn("document has no tenant, chunking skipped")
	}

	if j.index != nil {
		bestEffort(ctx, logger, "keyword_index", doc.ID, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, j.index.Index(ctx, doc.ID, map[string]string{
				"file_name": doc.FileName,
				"content":   res.Text,
			})
		})
	}
	if cls, ok := bestEffort(ctx, logger, "classify", doc.ID, func(ctx context.Context) (*core.Classification, error) {
		return j.backend.Classify(ctx, res.Text)
	}); ok {
		doc.Category = cls.Category
		doc.CategoryConfidence = cls.Confidence
		doc.Tags = cls.Tags
	}
	if sum, ok := bestEffort(ctx, logger, "summarize", doc.ID, func(ctx context.Context) (*core.Summary, error) {
		return j.backend.Summarize(ctx, res.Text)
	}); ok {
		doc.Summary = sum.Summary
		doc.KeyPoints = sum.KeyPoints
	}

	if err := j.complete(ctx, doc); err != nil {
		return err
	}
	logger.Info("document ingested", "chunks", doc.ChunkCount, "words", doc.WordCount, "category", doc.Category)
	return nil
}

func (j *Job) complete(ctx context.Context, doc *models.Document) error {
	now := j.now()
	doc.Status = models.StatusCompleted
	doc.ErrorMessage = ""
	doc.ProcessedAt = &now
	if err := j.docs.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// fail records cause on the document and returns it. The record is written even if ctx is done.
func (j *Job) fail(ctx context.Context, doc *models.Document, cause error) error {
	doc.Status = models.StatusFailed
	doc.ErrorMessage = truncateRunes(cause.Error(), j.cfg.MaxErrorLen)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := j.docs.UpdateDocument(writeCtx, doc); err != nil {
		j.logger.Error("could not record failure", "document_id", doc.ID, "cause", cause, "error", err)
		return errors.Join(cause, err)
	}
	j.logger.Error("document ingestion failed", "document_id", doc.ID, "error", cause)
	return cause
}

// RunBatch runs up to limit pending or failed documents one after another and
// returns how many finished without error.
func (j *Job) RunBatch(ctx context.Context, limit int) (int, error) {
	ids, err := j.docs.ListDocumentIDsByStatus(ctx, []models.DocumentStatus{models.StatusPending, models.StatusFailed}, limit)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}

	ok := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		if err := j.Run(ctx, id); err != nil {
			j.logger.Warn("batch entry failed", "document_id", id, "error", err)
			continue
		}
		ok++
	}
	j.logger.Info("batch finished", "requested", limit, "found", len(ids), "succeeded", ok)
	return ok, nil
}

// Reprocess is the explicit recovery path, including for documents stuck in processing.
func (j *Job) Reprocess(ctx context.Context, docID string) error {
	if err := j.docs.ResetDocument(ctx, docID); err != nil {
		return err
	}
	return j.Run(ctx, docID)
}

// Start launches numWorkers goroutines reading from the queue until ctx is done.
// Documents already being processed finish under their own timeout.
func (j *Job) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	j.mu.Lock()
	j.group = g
	j.mu.Unlock()

	for w := 1; w <= numWorkers; w++ {
		w := w
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					j.logger.Debug("worker shutting down", "worker", w)
					return nil
				case docID := <-j.jobs:
					j.logger.Debug("worker picked document", "worker", w, "document_id", docID)
					procCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), j.cfg.ProcessTimeout)
					if err := j.Run(procCtx, docID); err != nil {
						j.logger.Warn("queued document failed", "worker", w, "document_id", docID, "error", err)
					}
					cancel()
				}
			}
		})
	}
}

// Enqueue schedules a document for a worker. It blocks while the queue is full.
func (j *Job) Enqueue(ctx context.Context, docID string) error {
	select {
	case j.jobs <- docID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every worker started by Start has returned.
func (j *Job) Wait() error {
	j.mu.Lock()
	g := j.group
	j.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
