package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/kbingest/internal/core"
)

const (
	geminiName             = "cloud"
	defaultGeminiEmbed     = "gemini-embedding-001"
	defaultGeminiChat      = "gemini-1.5-flash"
	defaultGeminiDim       = 3072
	defaultGeminiTimeout   = 60 * time.Second
	geminiMaxBatchRequests = 100 // BatchEmbedContents request limit
)

// GeminiConfig configures the cloud backend.
type GeminiConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dimensions int
	Timeout    time.Duration
}

// GeminiBackend is the cloud backend on Google's Generative Language API.
type GeminiBackend struct {
	client     *genai.Client
	embedModel string
	chatModel  string
	dims       int
	timeout    time.Duration
	logger     *slog.Logger
}

var _ core.Backend = (*GeminiBackend)(nil)

func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini backend: GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	b := &GeminiBackend{
		client:     cl,
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		dims:       cfg.Dimensions,
		timeout:    cfg.Timeout,
		logger:     slog.Default().With("component", "llm", "backend", geminiName),
	}
	if b.embedModel == "" {
		b.embedModel = defaultGeminiEmbed
	}
	if b.chatModel == "" {
		b.chatModel = defaultGeminiChat
	}
	if b.dims <= 0 {
		b.dims = defaultGeminiDim
	}
	if b.timeout <= 0 {
		b.timeout = defaultGeminiTimeout
	}
	return b, nil
}

func (g *GeminiBackend) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiBackend) Name() string               { return geminiName }
func (g *GeminiBackend) EmbeddingDimensions() int   { return g.dims }
func (g *GeminiBackend) EmbeddingModelName() string { return g.embedModel }

func (g *GeminiBackend) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany batches texts via BatchEmbedContents, at most geminiMaxBatchRequests per call.
func (g *GeminiBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	em := g.client.EmbeddingModel(g.embedModel)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += geminiMaxBatchRequests {
		end := min(start+geminiMaxBatchRequests, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := em.BatchEmbedContents(callCtx, batch)
		cancel()
		if err != nil {
			return nil, core.BackendUnavailable("gemini batch embed", err)
		}

		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(out), len(texts))
	}
	if err := checkDims(out, g.dims); err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	return out, nil
}
