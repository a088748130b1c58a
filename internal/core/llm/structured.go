package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/markdave123-py/kbingest/internal/core"
)

const (
	// DefaultCategory is used whenever the model's classification cannot be parsed.
	DefaultCategory      = "Other"
	defaultConfidence    = 0.1
	SummaryUnavailable   = "Summary unavailable."
	maxStructuredInput   = 12000 // runes of document text sent to classify/summarize
	maxTags              = 8
	maxKeyPoints         = 6
	classifySystemPrompt = "You are a document classifier. Respond with JSON only, using the shape " +
		`{"category": string, "confidence": number between 0 and 1, "tags": [string]}. ` +
		"Pick a short category such as Contract, Invoice, Report, Policy, Manual, Correspondence, Research or Other."
	summarizeSystemPrompt = "You summarise documents. Respond with JSON only, using the shape " +
		`{"summary": string, "key_points": [string]}. Keep the summary under 120 words.`
)

// generator is the slice of core.Backend the structured helpers need.
type generator interface {
	Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.GenerateResult, error)
}

func classifyText(ctx context.Context, g generator, logger *slog.Logger, text string) (*core.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.InvalidInput("classify: empty text")
	}
	temp := float32(0)
	res, err := g.Generate(ctx, "Classify this document:\n\n"+clip(text, maxStructuredInput), core.GenerateOptions{
		System:      classifySystemPrompt,
		Temperature: &temp,
		MaxTokens:   256,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}
	return parseClassification(logger, res.Text), nil
}

func summarizeText(ctx context.Context, g generator, logger *slog.Logger, text string) (*core.Summary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.InvalidInput("summarize: empty text")
	}
	temp := float32(0.2)
	res, err := g.Generate(ctx, "Summarise this document:\n\n"+clip(text, maxStructuredInput), core.GenerateOptions{
		System:      summarizeSystemPrompt,
		Temperature: &temp,
		MaxTokens:   512,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}
	return parseSummary(logger, res.Text), nil
}

// parseClassification never fails: malformed output yields the default classification.
func parseClassification(logger *slog.Logger, raw string) *core.Classification {
	var out core.Classification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil || strings.TrimSpace(out.Category) == "" {
		logger.Warn("unparsable classification output, using default", "error", err, "raw", clip(raw, 200))
		return &core.Classification{Category: DefaultCategory, Confidence: defaultConfidence, Tags: []string{}}
	}

	out.Category = strings.TrimSpace(out.Category)
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	out.Tags = cleanList(out.Tags, maxTags)
	return &out
}

// parseSummary never fails: malformed output yields SummaryUnavailable.
func parseSummary(logger *slog.Logger, raw string) *core.Summary {
	var out core.Summary
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil || strings.TrimSpace(out.Summary) == "" {
		logger.Warn("unparsable summary output, using default", "error", err, "raw", clip(raw, 200))
		return &core.Summary{Summary: SummaryUnavailable, KeyPoints: []string{}}
	}
	out.Summary = strings.TrimSpace(out.Summary)
	out.KeyPoints = cleanList(out.KeyPoints, maxKeyPoints)
	return &out
}

// extractJSON strips markdown fences and surrounding chatter, returning the outermost object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func cleanList(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return core.InvalidInput("embed: empty input list")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return core.InvalidInput("embed: text %d is empty", i)
		}
	}
	return nil
}

func checkDims(vecs [][]float32, want int) error {
	for _, v := range vecs {
		if len(v) != want {
			return core.DimensionMismatch(len(v), want)
		}
	}
	return nil
}
