package core

import "context"

// Backend is the embedding + generation capability every AI provider implements.
// Dimensionality is fixed for the lifetime of an instance.
type Backend interface {
	Name() string

	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany returns one vector per input, in input order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)

	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)
	// Classify and Summarize never fail on malformed model output; they degrade to defaults.
	Classify(ctx context.Context, text string) (*Classification, error)
	Summarize(ctx context.Context, text string) (*Summary, error)

	CheckConnection(ctx context.Context) (bool, error)

	EmbeddingDimensions() int
	EmbeddingModelName() string
	ChatModelName() string
	ChunkProfile() ChunkProfile
}

// GenerateOptions tunes a single generation call. Zero values mean "backend default".
type GenerateOptions struct {
	Temperature *float32
	MaxTokens   int
	System      string
	Model       string
	// JSON asks the backend for a JSON-only response where the provider supports it.
	JSON bool
}

// TokenUsage is reported when the provider returns it.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type GenerateResult struct {
	Text  string      `json:"text"`
	Model string      `json:"model"`
	Usage *TokenUsage `json:"usage,omitempty"`
}

type Classification struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

type Summary struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// EmbeddingResult is a transient query embedding; it is never persisted on its own.
type EmbeddingResult struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
}

// BackendInfo describes the active backend.
type BackendInfo struct {
	Name           string `json:"name"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`
	Dimensions     int    `json:"dimensions"`
}

// ChunkProfile bounds chunk sizes in words.
//
// TargetWords: aim size of a chunk.
// MinWords:    a trailing chunk below this is merged into its predecessor.
// MaxWords:    running chunks are closed before growing past this.
type ChunkProfile struct {
	TargetWords int
	MinWords    int
	MaxWords    int
}

// WithTarget returns a profile aimed at target words, scaling min and max by the same ratio.
func (p ChunkProfile) WithTarget(target int) ChunkProfile {
	if target <= 0 || p.TargetWords <= 0 {
		return p.Normalize()
	}
	scaled := ChunkProfile{
		TargetWords: target,
		MinWords:    p.MinWords * target / p.TargetWords,
		MaxWords:    p.MaxWords * target / p.TargetWords,
	}
	return scaled.Normalize()
}

// Normalize enforces 1 <= Min <= Target <= Max.
func (p ChunkProfile) Normalize() ChunkProfile {
	if p.TargetWords <= 0 {
		p.TargetWords = 300
	}
	if p.MinWords <= 0 {
		p.MinWords = 1
	}
	if p.MinWords > p.TargetWords {
		p.MinWords = p.TargetWords
	}
	if p.MaxWords < p.TargetWords {
		p.MaxWords = p.TargetWords
	}
	return p
}
