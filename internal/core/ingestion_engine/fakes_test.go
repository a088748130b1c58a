package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunker"
	"github.com/markdave123-py/kbingest/internal/core/llm"
)

// repeatWords returns n space-separated words with no sentence punctuation.
func repeatWords(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}

type extractStep struct {
	text string
	err  error
}

// fakeExtractor returns scripted results per path and counts calls.
type fakeExtractor struct {
	mu          sync.Mutex
	byPath      map[string]extractStep
	unsupported map[string]bool
	calls       int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{byPath: map[string]extractStep{}, unsupported: map[string]bool{}}
}

func (f *fakeExtractor) Supports(mime string) bool { return !f.unsupported[mime] }

func (f *fakeExtractor) Extract(_ context.Context, path, mime string) (*core.ExtractResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	step, ok := f.byPath[path]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", path, core.ErrNotFound)
	}
	if step.err != nil {
		return nil, step.err
	}
	return &core.ExtractResult{Text: step.text, WordCount: chunker.WordCount(step.text), MimeType: mime}, nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// miscountBackend drops the last vector from every EmbedMany response.
type miscountBackend struct {
	*llm.HashBackend
}

func (m miscountBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := m.HashBackend.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}
	return v[:len(v)-1], nil
}

// shortVectorBackend returns vectors one element shorter than it declares.
type shortVectorBackend struct {
	*llm.HashBackend
}

func (s shortVectorBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := s.HashBackend.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range v {
		v[i] = v[i][:len(v[i])-1]
	}
	return v, nil
}

// downBackend fails every EmbedMany as an unreachable provider would.
type downBackend struct {
	*llm.HashBackend
}

func (d downBackend) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, core.BackendUnavailable("scripted", errors.New("connection refused"))
}

type failingIndex struct{}

func (failingIndex) Index(context.Context, string, map[string]string) error {
	return errors.New("index offline")
}
func (failingIndex) Remove(context.Context, string) error { return nil }

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
