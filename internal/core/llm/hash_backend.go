package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunker"
)

const (
	hashName             = "test"
	hashEmbedModel       = "hash-embed-v1"
	hashChatModel        = "hash-chat-v1"
	DefaultHashDimension = 384
)

// Responder scripts HashBackend generations; used by tests to simulate model output or outages.
type Responder func(prompt string, opts core.GenerateOptions) (string, error)

// HashBackend is the deterministic offline backend. The same text always yields the
// same vector, built from a sha256 stream and L2-normalized.
type HashBackend struct {
	dims      int
	responder Responder
	logger    *slog.Logger
}

var _ core.Backend = (*HashBackend)(nil)

// HashOption configures a HashBackend.
type HashOption func(*HashBackend)

// WithResponder replaces the default deterministic generation.
func WithResponder(r Responder) HashOption {
	return func(h *HashBackend) {
		if r != nil {
			h.responder = r
		}
	}
}

func NewHashBackend(dims int, opts ...HashOption) *HashBackend {
	if dims <= 0 {
		dims = DefaultHashDimension
	}
	h := &HashBackend{
		dims:   dims,
		logger: slog.Default().With("component", "llm", "backend", hashName),
	}
	h.responder = h.defaultResponse
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HashBackend) Name() string               { return hashName }
func (h *HashBackend) EmbeddingDimensions() int   { return h.dims }
func (h *HashBackend) EmbeddingModelName() string { return hashEmbedModel }
func (h *HashBackend) ChatModelName() string      { return hashChatModel }

func (h *HashBackend) ChunkProfile() core.ChunkProfile {
	return core.ChunkProfile{TargetWords: 100, MinWords: 20, MaxWords: 150}
}

func (h *HashBackend) CheckConnection(context.Context) (bool, error) { return true, nil }

func (h *HashBackend) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.InvalidInput("embed: empty text")
	}
	return hashVector(text, h.dims), nil
}

func (h *HashBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, h.dims)
	}
	return out, nil
}

func (h *HashBackend) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.GenerateResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, core.InvalidInput("generate: empty prompt")
	}
	text, err := h.responder(prompt, opts)
	if err != nil {
		return nil, err
	}

	model := hashChatModel
	if opts.Model != "" {
		model = opts.Model
	}
	promptTokens := chunker.WordCount(opts.System) + chunker.WordCount(prompt)
	completionTokens := chunker.WordCount(text)
	return &core.GenerateResult{
		Text:  text,
		Model: model,
		Usage: &core.TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func (h *HashBackend) Classify(ctx context.Context, text string) (*core.Classification, error) {
	return classifyText(ctx, h, h.logger, text)
}

func (h *HashBackend) Summarize(ctx context.Context, text string) (*core.Summary, error) {
	return summarizeText(ctx, h, h.logger, text)
}

// defaultResponse answers JSON requests with one object carrying both the
// classification and the summary fields, derived only from the prompt body.
func (h *HashBackend) defaultResponse(prompt string, opts core.GenerateOptions) (string, error) {
	body := prompt
	if i := strings.Index(prompt, "\n\n"); i >= 0 {
		body = prompt[i+2:]
	}
	if !opts.JSON {
		return "[" + hashChatModel + "] " + clip(strings.Join(strings.Fields(body), " "), 200), nil
	}

	sentences := chunker.Sentences(strings.Join(strings.Fields(body), " "))
	summary := clip(body, 200)
	if len(sentences) > 0 {
		summary = sentences[0]
	}
	keyPoints := sentences
	if len(keyPoints) > 3 {
		keyPoints = keyPoints[:3]
	}

	payload, err := json.Marshal(map[string]any{
		"category":   "General",
		"confidence": 0.9,
		"tags":       firstWords(body, 3),
		"summary":    summary,
		"key_points": keyPoints,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func firstWords(s string, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == n {
			break
		}
	}
	return out
}

// hashVector expands sha256(text || counter) into dims floats in [-1, 1] and normalizes.
func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	var (
		block   [sha256.Size]byte
		counter uint32
		norm    float64
		buf     = make([]byte, len(text)+4)
	)
	copy(buf, text)

	for i := 0; i < dims; i++ {
		off := (i * 4) % sha256.Size
		if off == 0 {
			binary.BigEndian.PutUint32(buf[len(text):], counter)
			block = sha256.Sum256(buf)
			counter++
		}
		u := binary.BigEndian.Uint32(block[off : off+4])
		v := float64(u)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
