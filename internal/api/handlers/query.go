package handlers

import (
	"net/http"

	"github.com/dom/ingest-pipeline/internal/api/httpx"
	"github.com/dom/ingest-pipeline/internal/api/middleware"
	"github.com/dom/ingest-pipeline/internal/service"
	"github.com/go-chi/chi/v5"
)

type QueryHandler struct {
	query *service.QueryService
}

func NewQueryHandler(query *service.QueryService) *QueryHandler {
	return &QueryHandler{query: query}
}

// GetDataset resolves {identifier} through any of the four accepted forms
// (uuid, numeric id, slug, name).
func (h *QueryHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	requesterEmail, _ := middleware.GetUserEmail(r.Context())

	dataset, err := h.query.GetDataset(r.Context(), identifier, requesterEmail, nil)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dataset)
}

func (h *QueryHandler) SessionProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	datasetUUID, err := h.query.ResolveJobHandle(r.Context(), sessionID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"datasetUuid": datasetUUID.String()})
}
