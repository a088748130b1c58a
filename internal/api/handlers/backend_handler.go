package handlers

import (
	"net/http"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/llm"
)

type BackendHandler struct {
	selector *llm.Selector
}

func NewBackendHandler(selector *llm.Selector) *BackendHandler {
	return &BackendHandler{selector: selector}
}

type backendStatus struct {
	core.BackendInfo
	Available bool `json:"available"`
}

// Info describes the active AI backend and whether it is reachable right now.
func (h *BackendHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.selector.Info(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backendStatus{BackendInfo: info, Available: h.selector.AvailabilityCheck(r.Context())})
}
