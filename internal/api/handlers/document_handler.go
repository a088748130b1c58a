package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/kbingest/internal/api/middlewares"
	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbingest/internal/models"
	"github.com/markdave123-py/kbingest/internal/services"
)

const (
	maxUploadBytes    = 52 << 20
	defaultBatchLimit = 10
	maxBatchLimit     = 100
)

type DocumentHandler struct {
	docs      *services.DocumentService
	ingestor  ingestion_engine.Ingestor
	processor *ingestion_engine.DocumentProcessor
	logger    *slog.Logger
}

func NewDocumentHandler(docs *services.DocumentService, ing ingestion_engine.Ingestor, processor *ingestion_engine.DocumentProcessor) *DocumentHandler {
	return &DocumentHandler{
		docs:      docs,
		ingestor:  ing,
		processor: processor,
		logger:    slog.Default().With("component", "document_handler"),
	}
}

// UploadDocument stores the file, creates a pending document and queues it for ingestion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, core.InvalidInput("multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, core.InvalidInput("invalid file: %v", err))
		return
	}
	defer file.Close()

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := h.docs.Upload(uploadCtx, tenantID, userID, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	enqueueCtx, cancelEnqueue := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancelEnqueue()
	if err := h.ingestor.Enqueue(enqueueCtx, doc.ID); err != nil {
		h.logger.Warn("ingestion queue full, document left pending for batch", "document_id", doc.ID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// IngestDocument runs the ingestion job for one document synchronously.
func (h *DocumentHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	h.runAndRespond(w, r, h.ingestor.Run)
}

// ReprocessDocument resets a document, including one stuck in processing, and ingests it again.
func (h *DocumentHandler) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	h.runAndRespond(w, r, h.ingestor.Reprocess)
}

func (h *DocumentHandler) runAndRespond(w http.ResponseWriter, r *http.Request, run func(context.Context, string) error) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	if err := run(r.Context(), doc.ID); err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := h.docs.Get(r.Context(), doc.TenantID, doc.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	limit := defaultBatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBatchLimit {
			writeError(w, r, core.InvalidInput("limit must be between 1 and %d", maxBatchLimit))
			return
		}
		limit = n
	}

	processed, err := h.ingestor.RunBatch(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (h *DocumentHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	chunks, err := h.processor.List(r.Context(), doc.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("embeddings") != "true" {
		for i := range chunks {
			chunks[i].Embedding = nil
		}
	}
	if chunks == nil {
		chunks = []models.DocumentChunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (h *DocumentHandler) DeleteChunks(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	n, err := h.processor.DeleteAll(r.Context(), doc.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *DocumentHandler) ChunkStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.processor.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ownedDocument loads {id} for the caller's tenant. Documents of other tenants are reported as not found.
func (h *DocumentHandler) ownedDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return nil, false
	}
	doc, err := h.docs.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return doc, true
}
