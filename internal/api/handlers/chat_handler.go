package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/retrieval"
	"github.com/markdave123-py/kbingest/internal/models"
)

type ChatHandler struct {
	retriever *retrieval.Retriever
	maxTokens int
}

func NewChatHandler(retriever *retrieval.Retriever, maxTokens int) *ChatHandler {
	return &ChatHandler{retriever: retriever, maxTokens: maxTokens}
}

type ChatRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Query      string `json:"query"`
	K          int    `json:"k,omitempty"`
}

func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request) (retrieval.Query, bool) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return retrieval.Query{}, false
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, core.InvalidInput("invalid request: %v", err))
		return retrieval.Query{}, false
	}
	return retrieval.Query{TenantID: tenantID, Text: req.Query, DocumentID: req.DocumentID, K: req.K}, true
}

// Search returns the caller's tenant chunks nearest to the query.
func (h *ChatHandler) Search(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decode(w, r)
	if !ok {
		return
	}
	matches, err := h.retriever.Search(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.ChunkMatch{"results": withoutEmbeddings(matches)})
}

// QueryDocument answers the query from the caller's tenant knowledge base.
func (h *ChatHandler) QueryDocument(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decode(w, r)
	if !ok {
		return
	}
	ans, err := h.retriever.Answer(r.Context(), q, h.maxTokens)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ans.Sources = withoutEmbeddings(ans.Sources)
	writeJSON(w, http.StatusOK, ans)
}

func withoutEmbeddings(matches []models.ChunkMatch) []models.ChunkMatch {
	out := make([]models.ChunkMatch, len(matches))
	for i, m := range matches {
		m.Embedding = nil
		out[i] = m
	}
	return out
}
