package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

const (
	DefaultTopK = 5
	MaxTopK     = 50

	contextSeparator = "\n---\n"
	systemPrompt     = "You are an intelligent assistant answering based only on the given document content. If unsure, say 'I cannot find this in the document.'"
)

// Retriever answers tenant-scoped semantic queries over the chunk store.
type Retriever struct {
	store   core.ChunkStore
	backend core.Backend
	logger  *slog.Logger
}

func NewRetriever(store core.ChunkStore, backend core.Backend) *Retriever {
	return &Retriever{
		store:   store,
		backend: backend,
		logger:  slog.Default().With("component", "retriever"),
	}
}

// Query narrows a search. DocumentID is optional.
type Query struct {
	TenantID   string
	Text       string
	DocumentID string
	K          int
}

// Answer is a single-shot generated reply and the chunks it was grounded on.
type Answer struct {
	Text          string              `json:"answer"`
	Model         string              `json:"model"`
	Usage         *core.TokenUsage    `json:"usage,omitempty"`
	Sources       []models.ChunkMatch `json:"sources"`
	ContextTokens int                 `json:"context_tokens"`
}

// Search returns the chunks of q.TenantID closest to q.Text, best first.
// Stored vectors of another dimensionality fail the search with ErrDimensionMismatch.
func (r *Retriever) Search(ctx context.Context, q Query) ([]models.ChunkMatch, error) {
	if strings.TrimSpace(q.TenantID) == "" {
		return nil, core.InvalidInput("tenant id is required")
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, core.InvalidInput("query is required")
	}
	k := q.K
	if k <= 0 {
		k = DefaultTopK
	}
	if k > MaxTopK {
		return nil, core.InvalidInput("k must be at most %d", MaxTopK)
	}

	want := r.backend.EmbeddingDimensions()
	dims, err := r.store.EmbeddingDimensions(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	for _, d := range dims {
		if d != want {
			r.logger.Error("stored embeddings disagree with active backend",
				"tenant_id", q.TenantID, "stored_dim", d, "backend_dim", want, "backend", r.backend.Name())
			return nil, core.DimensionMismatch(d, want)
		}
	}

	vec, err := r.backend.EmbedOne(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != want {
		return nil, core.DimensionMismatch(len(vec), want)
	}

	matches, err := r.store.SearchChunks(ctx, q.TenantID, q.DocumentID, vec, k)
	if err != nil {
		return nil, err
	}

	out := make([]models.ChunkMatch, 0, len(matches))
	for _, m := range matches {
		if m.TenantID != q.TenantID {
			continue
		}
		if m.EmbeddingDim != want || (len(m.Embedding) != 0 && len(m.Embedding) != want) {
			return nil, core.DimensionMismatch(m.EmbeddingDim, want)
		}
		out = append(out, m)
	}
	r.logger.Debug("search finished", "tenant_id", q.TenantID, "k", k, "results", len(out))
	return out, nil
}

// BuildContext renders the budgeted matches as one prompt context block.
func BuildContext(matches []models.ChunkMatch, maxTokens int) string {
	kept := TruncateContext(matches, maxTokens)
	var sb strings.Builder
	for _, m := range kept {
		sb.WriteString(m.Text)
		sb.WriteString(contextSeparator)
	}
	return sb.String()
}

// Answer retrieves context for question and asks the backend once.
func (r *Retriever) Answer(ctx context.Context, q Query, maxTokens int) (*Answer, error) {
	matches, err := r.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	sources := TruncateContext(matches, maxTokens)
	block := BuildContext(sources, maxTokens)

	res, err := r.backend.Generate(ctx,
		fmt.Sprintf("Context:\n%s\n\nQuestion: %s", block, q.Text),
		core.GenerateOptions{System: systemPrompt},
	)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if sources == nil {
		sources = []models.ChunkMatch{}
	}
	return &Answer{
		Text:          res.Text,
		Model:         res.Model,
		Usage:         res.Usage,
		Sources:       sources,
		ContextTokens: EstimateTokens(block),
	}, nil
}
