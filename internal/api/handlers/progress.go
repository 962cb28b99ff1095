package handlers

import (
	"net/http"

	"github.com/dom/ingest-pipeline/internal/api/httpx"
	"github.com/dom/ingest-pipeline/internal/api/middleware"
	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/service"
	ws "github.com/dom/ingest-pipeline/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressHandler upgrades GET /api/upload/status/{jobId}/ws into a
// websocket subscription to that job's dataset, pushing every status
// transition the Conversion Dispatcher publishes.
type ProgressHandler struct {
	hub   *ws.Hub
	query *service.QueryService
}

func NewProgressHandler(hub *ws.Hub, query *service.QueryService) *ProgressHandler {
	return &ProgressHandler{hub: hub, query: query}
}

func (h *ProgressHandler) Handle(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "jobId")
	datasetUUID, err := h.query.ResolveJobHandle(r.Context(), handle)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httpx.Error(w, apperr.ErrAuthInvalid)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	h.hub.Subscribe(client, datasetUUID)

	go client.WritePump()
	client.ReadPump()
}
