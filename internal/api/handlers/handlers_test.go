package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/markdave123-py/kbingest/internal/api/middlewares"
	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core"
	db "github.com/markdave123-py/kbingest/internal/core/database"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	"github.com/markdave123-py/kbingest/internal/core/retrieval"
	"github.com/markdave123-py/kbingest/internal/models"
	"github.com/markdave123-py/kbingest/internal/services"
)

const testSecret = "test-secret"

type fixture struct {
	store  *db.MemoryStore
	job    *ingestion_engine.Job
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	selector := llm.NewSelector(&config.Config{AIBackend: "test", TestEmbedDim: 16})
	backend, err := selector.Get(context.Background())
	require.NoError(t, err)

	processor := ingestion_engine.NewDocumentProcessor(store, backend, ingestion_engine.WithTargetWords(50))
	extractor := ingestion_engine.NewDocconvExtractor(nil, false)
	job := ingestion_engine.NewJob(store, processor, extractor, store, backend, ingestion_engine.DefaultJobConfig())
	docs := services.NewDocumentService(store, nil, "", t.TempDir())

	docHandler := NewDocumentHandler(docs, job, processor)
	chatHandler := NewChatHandler(retrieval.NewRetriever(store, backend), 3000)
	backendHandler := NewBackendHandler(selector)

	r := chi.NewRouter()
	r.Group(func(p chi.Router) {
		p.Use(middleware.JWTMiddleware(testSecret))
		p.Post("/api/documents/upload", docHandler.UploadDocument)
		p.Get("/api/documents/{id}", docHandler.GetDocument)
		p.Post("/api/documents/{id}/ingest", docHandler.IngestDocument)
		p.Post("/api/documents/{id}/reprocess", docHandler.ReprocessDocument)
		p.Get("/api/documents/{id}/chunks", docHandler.ListChunks)
		p.Delete("/api/documents/{id}/chunks", docHandler.DeleteChunks)
		p.Get("/api/ai/backend", backendHandler.Info)
		p.Post("/api/search", chatHandler.Search)
		p.Post("/api/chat/query", chatHandler.QueryDocument)
		p.Group(func(op chi.Router) {
			op.Use(middleware.RequireOperator)
			op.Post("/api/documents/ingest/batch", docHandler.IngestBatch)
			op.Get("/api/admin/chunks/stats", docHandler.ChunkStats)
		})
	})
	return &fixture{store: store, job: job, router: r}
}

func (f *fixture) do(t *testing.T, tenantID, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	return f.doWithClaims(t, tenantID, nil, method, path, body, contentType)
}

// asOperator issues a request with the operator role claim.
func (f *fixture) asOperator(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	return f.doWithClaims(t, "ops", jwt.MapClaims{"role": middleware.RoleOperator}, method, path, nil, "")
}

func (f *fixture) doWithClaims(t *testing.T, tenantID string, claims jwt.MapClaims, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	tok, err := middleware.IssueToken(testSecret, tenantID, "user-"+tenantID, claims)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, tenantID, name, content string) models.Document {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, name)}
	h["Content-Type"] = []string{"text/plain"}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := f.do(t, tenantID, http.MethodPost, "/api/documents/upload", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func TestUploadIngestAndQuery(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "tenant-1", "policy.txt", "Refunds are issued within fourteen days of a returned item.")
	assert.Equal(t, models.StatusPending, doc.Status)
	assert.Equal(t, "tenant-1", doc.TenantID)

	rec := f.do(t, "tenant-1", http.MethodPost, "/api/documents/"+doc.ID+"/ingest", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ingested models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingested))
	assert.Equal(t, models.StatusCompleted, ingested.Status)
	assert.Equal(t, 1, ingested.ChunkCount)

	rec = f.do(t, "tenant-1", http.MethodGet, "/api/documents/"+doc.ID+"/chunks", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var chunks []models.DocumentChunk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunks))
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Embedding)

	rec = f.do(t, "tenant-1", http.MethodPost, "/api/search", jsonBody(t, ChatRequest{Query: "refunds"}), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var search map[string][]models.ChunkMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	require.Len(t, search["results"], 1)
	assert.Equal(t, doc.ID, search["results"][0].DocumentID)

	rec = f.do(t, "tenant-1", http.MethodPost, "/api/chat/query", jsonBody(t, ChatRequest{Query: "how long do refunds take?"}), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ans retrieval.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.NotEmpty(t, ans.Text)
	assert.Len(t, ans.Sources, 1)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "tenant-1", "a.txt", "secret plans for tenant one")
	require.Equal(t, http.StatusOK, f.do(t, "tenant-1", http.MethodPost, "/api/documents/"+doc.ID+"/ingest", nil, "").Code)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/documents/" + doc.ID},
		{http.MethodGet, "/api/documents/" + doc.ID + "/chunks"},
		{http.MethodDelete, "/api/documents/" + doc.ID + "/chunks"},
		{http.MethodPost, "/api/documents/" + doc.ID + "/ingest"},
	} {
		rec := f.do(t, "tenant-2", tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := f.do(t, "tenant-2", http.MethodPost, "/api/search", jsonBody(t, ChatRequest{Query: "secret plans"}), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var search map[string][]models.ChunkMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	assert.Empty(t, search["results"])
}

func TestDeleteChunksAndStats(t *testing.T) {
	f := newFixture(t)
	doc := f.upload(t, "tenant-1", "a.txt", "some words to chunk")
	require.Equal(t, http.StatusOK, f.do(t, "tenant-1", http.MethodPost, "/api/documents/"+doc.ID+"/ingest", nil, "").Code)

	rec := f.do(t, "tenant-1", http.MethodGet, "/api/admin/chunks/stats", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.asOperator(t, http.MethodGet, "/api/admin/chunks/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.ChunkStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 1, st.TotalChunks)

	rec = f.do(t, "tenant-1", http.MethodDelete, "/api/documents/"+doc.ID+"/chunks", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":1}`, rec.Body.String())
}

func TestBatchAndReprocess(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "tenant-1", "a.txt", "first document")
	f.upload(t, "tenant-1", "b.txt", "second document")

	rec := f.do(t, "tenant-2", http.MethodPost, "/api/documents/ingest/batch?limit=10", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "a tenant token cannot ingest other tenants' documents")
	pending, err := f.store.GetDocumentByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, pending.Status)

	rec = f.asOperator(t, http.MethodPost, "/api/documents/ingest/batch?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":2}`, rec.Body.String())

	rec = f.asOperator(t, http.MethodPost, "/api/documents/ingest/batch?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "tenant-1", http.MethodPost, "/api/documents/"+a.ID+"/reprocess", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, models.StatusCompleted, doc.Status)
}

func TestBackendInfo(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "tenant-1", http.MethodGet, "/api/ai/backend", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info backendStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 16, info.Dimensions)
	assert.True(t, info.Available)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "tenant-1", http.MethodPost, "/api/search", bytes.NewBufferString("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "tenant-1", http.MethodPost, "/api/search", jsonBody(t, ChatRequest{Query: " "}), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "tenant-1", http.MethodPost, "/api/documents/upload", bytes.NewBufferString("not multipart"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/ai/backend", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.InvalidInput("x"), http.StatusBadRequest},
		{fmt.Errorf("doc: %w", core.ErrNotFound), http.StatusNotFound},
		{core.ErrUnsupportedType, http.StatusUnsupportedMediaType},
		{core.BackendUnavailable("gemini", errors.New("down")), http.StatusServiceUnavailable},
		{core.DimensionMismatch(8, 16), http.StatusConflict},
		{core.StorageFailure("insert", errors.New("disk")), http.StatusInternalServerError},
		{errors.New("unknown"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestDimensionMismatchIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.InsertChunks(ctx, []models.DocumentChunk{{
		ID: "c1", DocumentID: "old", TenantID: "tenant-1", Text: "legacy",
		Embedding: make([]float32, 8), EmbeddingDim: 8,
	}}))

	rec := f.do(t, "tenant-1", http.MethodPost, "/api/search", jsonBody(t, ChatRequest{Query: "legacy"}), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dimension"))
}
