package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/kbingest/internal/core"
)

// Default configuration values.
const (
	ollamaName              = "local"
	DefaultOllamaURL        = "http://localhost:11434"
	DefaultOllamaEmbedModel = "nomic-embed-text"
	DefaultOllamaChatModel  = "llama3.2"
	DefaultOllamaDimensions = 768 // nomic-embed-text
	DefaultOllamaTimeout    = 120 * time.Second
	defaultOllamaParallel   = 4
)

// OllamaConfig configures the local backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL    string
	EmbedModel string
	ChatModel  string
	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int
	Timeout    time.Duration
	// Parallel bounds concurrent embedding requests; Ollama has no batch endpoint.
	Parallel int
}

// OllamaBackend is the locally hosted backend.
type OllamaBackend struct {
	client     *http.Client
	baseURL    string
	embedModel string
	chatModel  string
	dims       int
	parallel   int
	logger     *slog.Logger
}

var _ core.Backend = (*OllamaBackend)(nil)

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultOllamaEmbedModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultOllamaChatModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultOllamaDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = defaultOllamaParallel
	}

	return &OllamaBackend{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		dims:       cfg.Dimensions,
		parallel:   cfg.Parallel,
		logger:     slog.Default().With("component", "llm", "backend", ollamaName),
	}
}

func (o *OllamaBackend) Name() string               { return ollamaName }
func (o *OllamaBackend) EmbeddingDimensions() int   { return o.dims }
func (o *OllamaBackend) EmbeddingModelName() string { return o.embedModel }
func (o *OllamaBackend) ChatModelName() string      { return o.chatModel }

func (o *OllamaBackend) ChunkProfile() core.ChunkProfile {
	return core.ChunkProfile{TargetWords: 300, MinWords: 60, MaxWords: 450}
}

func (o *OllamaBackend) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.InvalidInput("embed: empty text")
	}
	return o.embed(ctx, text)
}

// EmbedMany fans out one request per text, bounded by o.parallel. Results keep input order.
func (o *OllamaBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallel)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := o.embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OllamaBackend) embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	if err := o.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: o.embedModel, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) != o.dims {
		return nil, core.DimensionMismatch(len(resp.Embedding), o.dims)
	}

	embedding := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

func (o *OllamaBackend) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.GenerateResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, core.InvalidInput("generate: empty prompt")
	}

	req := ollamaChatRequest{Model: o.chatModel}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, ollamaMessage{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, ollamaMessage{Role: "user", Content: prompt})
	if opts.JSON {
		req.Format = "json"
	}
	if opts.MaxTokens > 0 || opts.Temperature != nil {
		req.Options = &ollamaOptions{NumPredict: opts.MaxTokens, Temperature: opts.Temperature}
	}

	var resp ollamaChatResponse
	if err := o.post(ctx, "/api/chat", req, &resp); err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &core.GenerateResult{
		Text:  resp.Message.Content,
		Model: model,
		Usage: &core.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (o *OllamaBackend) Classify(ctx context.Context, text string) (*core.Classification, error) {
	return classifyText(ctx, o, o.logger, text)
}

func (o *OllamaBackend) Summarize(ctx context.Context, text string) (*core.Summary, error) {
	return summarizeText(ctx, o, o.logger, text)
}

// CheckConnection hits /api/tags, which validates connectivity without running inference.
func (o *OllamaBackend) CheckConnection(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return false, fmt.Errorf("ollama: create ping request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false, core.BackendUnavailable("ollama ping", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, core.BackendUnavailable("ollama ping", fmt.Errorf("status %d", resp.StatusCode))
	}
	return true, nil
}

func (o *OllamaBackend) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return core.BackendUnavailable("ollama "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 {
			return core.BackendUnavailable("ollama "+path, err)
		}
		return fmt.Errorf("ollama %s: %w", path, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama %s: decode response: %w", path, err)
	}
	return nil
}
