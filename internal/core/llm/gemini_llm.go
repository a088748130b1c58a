package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/markdave123-py/kbingest/internal/core"
)

func (g *GeminiBackend) ChatModelName() string { return g.chatModel }

func (g *GeminiBackend) ChunkProfile() core.ChunkProfile {
	return core.ChunkProfile{TargetWords: 500, MinWords: 100, MaxWords: 800}
}

func (g *GeminiBackend) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.GenerateResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, core.InvalidInput("generate: empty prompt")
	}

	modelName := g.chatModel
	if opts.Model != "" {
		modelName = opts.Model
	}
	m := g.client.GenerativeModel(modelName)
	if opts.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.System)},
		}
	}
	if opts.Temperature != nil {
		m.SetTemperature(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.JSON {
		m.ResponseMIMEType = "application/json"
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := m.GenerateContent(callCtx, genai.Text(prompt))
	if err != nil {
		return nil, core.BackendUnavailable("gemini generate", err)
	}

	out := &core.GenerateResult{Model: modelName}
	if resp.UsageMetadata != nil {
		out.Usage = &core.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out.Text = b.String()
	return out, nil
}

func (g *GeminiBackend) Classify(ctx context.Context, text string) (*core.Classification, error) {
	return classifyText(ctx, g, g.logger, text)
}

func (g *GeminiBackend) Summarize(ctx context.Context, text string) (*core.Summary, error) {
	return summarizeText(ctx, g, g.logger, text)
}

// CheckConnection fetches embedding model metadata; it does not run inference.
func (g *GeminiBackend) CheckConnection(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if _, err := g.client.EmbeddingModel(g.embedModel).Info(callCtx); err != nil {
		return false, core.BackendUnavailable("gemini model info", err)
	}
	return true, nil
}
