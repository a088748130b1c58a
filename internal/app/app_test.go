package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appMiddleware "github.com/markdave123-py/kbingest/internal/api/middlewares"
	"github.com/markdave123-py/kbingest/internal/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	return &config.Config{
		StoreDriver:      driver,
		SQLitePath:       filepath.Join(t.TempDir(), "chunks.db"),
		UploadDir:        t.TempDir(),
		AIBackend:        "test",
		TestEmbedDim:     8,
		JWTSecret:        "secret",
		Port:             "0",
		IngestWorkers:    1,
		ContextMaxTokens: 3000,
	}
}

func TestNewApp_MemoryAndSQLite(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			a, err := NewApp(context.Background(), cfg)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			a.Start(ctx)
			cancel()
			a.Close()

			assert.NotNil(t, a.Stores.Docs)
			assert.NotNil(t, a.Stores.Chunks)
			info, err := a.Selector.Info(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 8, info.Dimensions)
		})
	}
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), testConfig(t, "mongo"))
	assert.Error(t, err)
}

func TestRouter_HealthAndAuth(t *testing.T) {
	cfg := testConfig(t, "memory")
	a, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	r := NewRouter(cfg, a)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai/backend", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := appMiddleware.IssueToken(cfg.JWTSecret, "tenant-1", "user-1", nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/ai/backend", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dimensions":8`)
}

func TestNewLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	assert.True(t, NewLogger("debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, NewLogger("error").Enabled(context.Background(), slog.LevelInfo))
}
