package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbingest/internal/config"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"cloud":   KindCloud,
		" LOCAL ": KindLocal,
		"test":    KindTest,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("openai")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud, local, test")
}

func TestSelector_CachesBackend(t *testing.T) {
	s := NewSelector(&config.Config{AIBackend: "test", TestEmbedDim: 12})
	ctx := context.Background()

	first, err := s.Get(ctx)
	require.NoError(t, err)
	second, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Name)
	assert.Equal(t, 12, info.Dimensions)
	assert.Equal(t, hashEmbedModel, info.EmbeddingModel)
	assert.True(t, s.AvailabilityCheck(ctx))
}

func TestSelector_ResetReselects(t *testing.T) {
	cfg := &config.Config{AIBackend: "test", TestEmbedDim: 8}
	s := NewSelector(cfg)
	ctx := context.Background()

	first, err := s.Get(ctx)
	require.NoError(t, err)

	cfg.TestEmbedDim = 16
	s.Reset()
	second, err := s.Get(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 16, second.EmbeddingDimensions())
}

func TestSelector_InvalidKind(t *testing.T) {
	s := NewSelector(&config.Config{AIBackend: "mystery"})
	_, err := s.Get(context.Background())
	assert.Error(t, err)
	assert.False(t, s.AvailabilityCheck(context.Background()))
}

func TestSelector_CloudRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	s := NewSelector(&config.Config{AIBackend: "cloud"})
	_, err := s.Get(context.Background())
	assert.Error(t, err)
}
