package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core"
)

// Kind names a backend implementation.
type Kind string

const (
	KindCloud Kind = "cloud"
	KindLocal Kind = "local"
	KindTest  Kind = "test"
)

var allowedKinds = []Kind{KindCloud, KindLocal, KindTest}

// ParseKind validates a configured backend name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, allowed := range allowedKinds {
		if k == allowed {
			return k, nil
		}
	}
	names := make([]string, len(allowedKinds))
	for i, a := range allowedKinds {
		names[i] = string(a)
	}
	return "", fmt.Errorf("invalid AI backend %q: must be one of %s", s, strings.Join(names, ", "))
}

// Selector resolves the configured backend once and caches it.
// Get is safe for concurrent use; Reset exists for test setup only and must not
// run while pipelines are using the backend.
type Selector struct {
	cfg    *config.Config
	mu     sync.RWMutex
	active core.Backend
	logger *slog.Logger
}

func NewSelector(cfg *config.Config) *Selector {
	return &Selector{
		cfg:    cfg,
		logger: slog.Default().With("component", "backend_selector"),
	}
}

// Get returns the cached backend, constructing it on first use.
func (s *Selector) Get(ctx context.Context) (core.Backend, error) {
	s.mu.RLock()
	b := s.active
	s.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return s.active, nil
	}
	b, err := s.build(ctx)
	if err != nil {
		return nil, err
	}
	s.active = b
	s.logger.Info("ai backend selected",
		"backend", b.Name(),
		"embedding_model", b.EmbeddingModelName(),
		"chat_model", b.ChatModelName(),
		"dimensions", b.EmbeddingDimensions())
	return b, nil
}

// Reset drops the cached backend so the next Get selects again. Test harnesses only.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.active.(io.Closer); ok {
		_ = c.Close()
	}
	s.active = nil
}

// AvailabilityCheck reports whether the active backend is reachable.
// Failures are logged and reported as false; they never propagate.
func (s *Selector) AvailabilityCheck(ctx context.Context) bool {
	b, err := s.Get(ctx)
	if err != nil {
		s.logger.Warn("ai backend not available", "error", err)
		return false
	}
	ok, err := b.CheckConnection(ctx)
	if err != nil || !ok {
		s.logger.Warn("ai backend connection check failed", "backend", b.Name(), "error", err)
		return false
	}
	return true
}

// Info describes the active backend.
func (s *Selector) Info(ctx context.Context) (core.BackendInfo, error) {
	b, err := s.Get(ctx)
	if err != nil {
		return core.BackendInfo{}, err
	}
	return DescribeBackend(b), nil
}

func DescribeBackend(b core.Backend) core.BackendInfo {
	return core.BackendInfo{
		Name:           b.Name(),
		ChatModel:      b.ChatModelName(),
		EmbeddingModel: b.EmbeddingModelName(),
		Dimensions:     b.EmbeddingDimensions(),
	}
}

func (s *Selector) build(ctx context.Context) (core.Backend, error) {
	kind, err := ParseKind(s.cfg.AIBackend)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(s.cfg.BackendTimeoutSecs) * time.Second

	switch kind {
	case KindCloud:
		return NewGeminiBackend(ctx, GeminiConfig{
			APIKey:     s.cfg.AIAPIKey,
			EmbedModel: s.cfg.EmbedModel,
			ChatModel:  s.cfg.GenModel,
			Dimensions: s.cfg.EmbedDim,
			Timeout:    timeout,
		})
	case KindLocal:
		return NewOllamaBackend(OllamaConfig{
			BaseURL:    s.cfg.OllamaURL,
			EmbedModel: s.cfg.OllamaEmbedModel,
			ChatModel:  s.cfg.OllamaChatModel,
			Dimensions: s.cfg.OllamaEmbedDim,
			Timeout:    timeout,
		}), nil
	default:
		return NewHashBackend(s.cfg.TestEmbedDim), nil
	}
}
