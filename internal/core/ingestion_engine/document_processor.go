package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunker"
	"github.com/markdave123-py/kbingest/internal/models"
)

// placeholderValue fills fallback vectors. It is non-zero so cosine math stays defined.
const placeholderValue = 1e-4

// DocumentProcessor turns one document's text into tenant-stamped, embedded chunks.
type DocumentProcessor struct {
	store       core.ChunkStore
	backend     core.Backend
	targetWords int
	now         func() time.Time
	logger      *slog.Logger
}

type ProcessorOption func(*DocumentProcessor)

// WithTargetWords overrides the backend profile's target chunk size.
func WithTargetWords(n int) ProcessorOption {
	return func(p *DocumentProcessor) { p.targetWords = n }
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *DocumentProcessor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewDocumentProcessor(store core.ChunkStore, backend core.Backend, opts ...ProcessorOption) *DocumentProcessor {
	p := &DocumentProcessor{
		store:   store,
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  slog.Default().With("component", "document_processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile is the chunk profile Process splits with.
func (p *DocumentProcessor) Profile() core.ChunkProfile {
	profile := p.backend.ChunkProfile()
	if p.targetWords > 0 {
		return profile.WithTarget(p.targetWords)
	}
	return profile.Normalize()
}

// Process splits, embeds and stores text as chunks of documentID, all stamped with tenantID.
// An embedding failure or a miscounted response does not fail the document: every
// chunk gets a placeholder vector and the result reports UsedPlaceholder.
func (p *DocumentProcessor) Process(ctx context.Context, documentID, tenantID, text string) (*models.ProcessingResult, error) {
	switch {
	case strings.TrimSpace(documentID) == "":
		return nil, core.InvalidInput("process: document id is required")
	case strings.TrimSpace(tenantID) == "":
		return nil, core.InvalidInput("process: tenant id is required")
	case strings.TrimSpace(text) == "":
		return nil, core.InvalidInput("process: text is empty")
	}

	start := time.Now()
	parts := chunker.Split(text, p.Profile())
	if len(parts) == 0 {
		return nil, core.InvalidInput("process: text produced no chunks")
	}

	dims := p.backend.EmbeddingDimensions()
	vectors, placeholder, err := p.embed(ctx, documentID, parts, dims)
	if err != nil {
		return nil, err
	}

	created := p.now()
	model := p.backend.EmbeddingModelName()
	chunks := make([]models.DocumentChunk, len(parts))
	totalWords := 0
	for i, part := range parts {
		words := chunker.WordCount(part)
		totalWords += words
		chunks[i] = models.DocumentChunk{
			ID:             uuid.NewString(),
			DocumentID:     documentID,
			TenantID:       tenantID,
			ChunkIndex:     i,
			Text:           part,
			Embedding:      vectors[i],
			WordCount:      words,
			EmbeddingModel: model,
			EmbeddingDim:   dims,
			Placeholder:    placeholder,
			CreatedAt:      created,
		}
	}

	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("store chunks for %s: %w", documentID, err)
	}

	res := &models.ProcessingResult{
		DocumentID:      documentID,
		ChunksCreated:   len(chunks),
		TotalWords:      totalWords,
		Elapsed:         time.Since(start),
		EmbeddingDim:    dims,
		EmbeddingModel:  model,
		UsedPlaceholder: placeholder,
	}
	p.logger.Info("document processed",
		"document_id", documentID,
		"tenant_id", tenantID,
		"chunks", res.ChunksCreated,
		"words", res.TotalWords,
		"dimensions", dims,
		"placeholder", placeholder,
		"elapsed", res.Elapsed)
	return res, nil
}

func (p *DocumentProcessor) embed(ctx context.Context, documentID string, parts []string, dims int) ([][]float32, bool, error) {
	vectors, err := p.backend.EmbedMany(ctx, parts)
	if errors.Is(err, core.ErrInvalidInput) || errors.Is(err, core.ErrDimensionMismatch) {
		return nil, false, err
	}
	// A wrong-sized vector means the configured dimensionality is wrong; placeholders would hide it.
	if err == nil {
		for i, v := range vectors {
			if len(v) != dims {
				return nil, false, fmt.Errorf("embed chunk %d: %w", i, core.DimensionMismatch(len(v), dims))
			}
		}
	}

	reason := ""
	switch {
	case err != nil:
		reason = err.Error()
	case len(vectors) != len(parts):
		reason = fmt.Sprintf("backend returned %d vectors for %d chunks", len(vectors), len(parts))
	}
	if reason == "" {
		return vectors, false, nil
	}

	p.logger.Warn("embedding failed, storing placeholder vectors",
		"document_id", documentID,
		"backend", p.backend.Name(),
		"chunks", len(parts),
		"placeholder", true,
		"reason", reason)
	out := make([][]float32, len(parts))
	for i := range out {
		out[i] = placeholderVector(dims)
	}
	return out, true, nil
}

func placeholderVector(dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = placeholderValue
	}
	return v
}

// Replace deletes the document's chunks, then processes newText. The two steps are
// not atomic: a crash in between leaves zero chunks until the next successful run.
func (p *DocumentProcessor) Replace(ctx context.Context, documentID, tenantID, newText string) (*models.ProcessingResult, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, core.InvalidInput("replace: document id is required")
	}
	if _, err := p.DeleteAll(ctx, documentID); err != nil {
		return nil, err
	}
	return p.Process(ctx, documentID, tenantID, newText)
}

// DeleteAll is idempotent; a document without chunks yields 0.
func (p *DocumentProcessor) DeleteAll(ctx context.Context, documentID string) (int64, error) {
	n, err := p.store.DeleteChunksByDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks for %s: %w", documentID, err)
	}
	if n > 0 {
		p.logger.Info("chunks deleted", "document_id", documentID, "count", n)
	}
	return n, nil
}

// List returns the document's chunks by index. A chunk embedded at another
// dimensionality than the active backend's fails with ErrDimensionMismatch.
func (p *DocumentProcessor) List(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	chunks, err := p.store.GetChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", documentID, err)
	}
	want := p.backend.EmbeddingDimensions()
	for _, ch := range chunks {
		if len(ch.Embedding) != want {
			p.logger.Error("stored chunk dimension differs from active backend",
				"document_id", documentID,
				"chunk_index", ch.ChunkIndex,
				"stored", len(ch.Embedding),
				"active", want,
				"backend", p.backend.Name())
			return nil, fmt.Errorf("document %s chunk %d: %w", documentID, ch.ChunkIndex, core.DimensionMismatch(len(ch.Embedding), want))
		}
	}
	return chunks, nil
}

// HasChunks is a hint only. Storage errors read as false.
func (p *DocumentProcessor) HasChunks(ctx context.Context, documentID string) bool {
	ok, err := p.store.HasChunks(ctx, documentID)
	if err != nil {
		p.logger.Warn("chunk existence check failed", "document_id", documentID, "error", err)
		return false
	}
	return ok
}

// Stats is global across tenants.
func (p *DocumentProcessor) Stats(ctx context.Context) (models.ChunkStats, error) {
	return p.store.ChunkStats(ctx)
}
