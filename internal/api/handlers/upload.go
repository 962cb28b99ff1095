package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dom/ingest-pipeline/internal/api/middleware"

	"github.com/dom/ingest-pipeline/internal/api/httpx"
	"github.com/dom/ingest-pipeline/internal/apperr"
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/domain"
	"github.com/dom/ingest-pipeline/internal/remote"
	"github.com/dom/ingest-pipeline/internal/service"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type UploadHandler struct {
	ingest  *service.IngestService
	session *service.UploadSessionService
	query   *service.QueryService
	layout  *storage.Layout
	cfg     *config.Config
}

func NewUploadHandler(ingest *service.IngestService, session *service.UploadSessionService, query *service.QueryService, layout *storage.Layout, cfg *config.Config) *UploadHandler {
	return &UploadHandler{ingest: ingest, session: session, query: query, layout: layout, cfg: cfg}
}

type CreateDatasetRequest struct {
	Name           string            `json:"name"`
	SensorKind     domain.SensorKind `json:"sensorKind"`
	Convert        bool              `json:"convert"`
	IsPublic       domain.Visibility `json:"isPublic"`
	IsDownloadable domain.Visibility `json:"isDownloadable,omitempty"`
	Description    string            `json:"description"`
	TeamID         *string           `json:"teamId,omitempty"`
	Folder         string            `json:"folder,omitempty"`
	Tags           []string          `json:"tags,omitempty"`

	// AddToExisting, when set, appends the uploaded file to the dataset
	// named by DatasetIdentifier instead of creating a new one. The
	// dataset's uuid, slug, and numeric id are left unchanged.
	AddToExisting     bool   `json:"addToExisting,omitempty"`
	DatasetIdentifier string `json:"datasetIdentifier,omitempty"`
}

// CreateWholeFile accepts the dataset metadata as JSON and the file body
// in the same multipart request, covering the whole-file upload mode.
func (h *UploadHandler) CreateWholeFile(w http.ResponseWriter, r *http.Request) {
	ownerEmail, _ := middleware.GetUserEmail(r.Context())

	if err := r.ParseMultipartForm(h.cfg.MaxFileSizeBytes); err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	var req CreateDatasetRequest
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), &req); err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}
	defer file.Close()

	if header.Size == 0 {
		httpx.Error(w, fmt.Errorf("%w: file is empty", apperr.ErrValidation))
		return
	}
	if header.Size > h.cfg.ChunkSizeBytes {
		httpx.Error(w, fmt.Errorf("%w: file exceeds the %d byte whole-file upload threshold, use chunked upload instead", apperr.ErrValidation, h.cfg.ChunkSizeBytes))
		return
	}

	var dataset *domain.Dataset
	if req.AddToExisting {
		if req.DatasetIdentifier == "" {
			httpx.Error(w, fmt.Errorf("%w: datasetIdentifier is required when addToExisting is set", apperr.ErrValidation))
			return
		}
		dataset, err = h.query.GetDataset(r.Context(), req.DatasetIdentifier, ownerEmail, nil)
	} else {
		dataset, err = h.ingest.CreateDataset(r.Context(), service.NewDatasetInput{
			Name:           req.Name,
			OwnerEmail:     ownerEmail,
			TeamID:         req.TeamID,
			SensorKind:     req.SensorKind,
			Convert:        req.Convert,
			IsPublic:       req.IsPublic,
			IsDownloadable: req.IsDownloadable,
			Description:    req.Description,
			Folder:         req.Folder,
			Tags:           req.Tags,
		})
	}
	if err != nil {
		httpx.Error(w, err)
		return
	}

	destDir := h.layout.UploadDir(dataset.UUID)
	if err := h.layout.EnsureDir(destDir); err != nil {
		httpx.Error(w, apperr.ErrStorageUnavailable)
		return
	}
	destPath := destDir + "/" + header.Filename
	out, err := os.Create(destPath)
	if err != nil {
		httpx.Error(w, apperr.ErrStorageUnavailable)
		return
	}
	defer out.Close()
	written, err := io.Copy(out, file)
	if err != nil {
		httpx.Error(w, apperr.ErrStorageUnavailable)
		return
	}

	datasetFile := domain.DatasetFile{
		Filename:     header.Filename,
		SizeBytes:    written,
		UploadedAt:   time.Now(),
		RelativePath: header.Filename,
	}
	if req.AddToExisting {
		if _, err := h.ingest.AddFileToExisting(r.Context(), dataset.UUID.String(), ownerEmail, datasetFile); err != nil {
			httpx.Error(w, err)
			return
		}
	} else if err := h.ingest.QueueWholeFileUpload(r.Context(), dataset.UUID, datasetFile); err != nil {
		httpx.Error(w, err)
		return
	}

	httpx.JSON(w, http.StatusAccepted, map[string]string{"jobId": dataset.UUID.String()})
}

type InitiateChunkedRequest struct {
	CreateDatasetRequest
	Filename       string `json:"filename"`
	TotalBytes     int64  `json:"totalBytes"`
	ChunkSizeBytes int64  `json:"chunkSizeBytes,omitempty"`
}

func (h *UploadHandler) InitiateChunked(w http.ResponseWriter, r *http.Request) {
	ownerEmail, _ := middleware.GetUserEmail(r.Context())

	var req InitiateChunkedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	dataset, err := h.ingest.CreateDataset(r.Context(), service.NewDatasetInput{
		Name:           req.Name,
		OwnerEmail:     ownerEmail,
		TeamID:         req.TeamID,
		SensorKind:     req.SensorKind,
		Convert:        req.Convert,
		IsPublic:       req.IsPublic,
		IsDownloadable: req.IsDownloadable,
		Description:    req.Description,
		Folder:         req.Folder,
		Tags:           req.Tags,
	})
	if err != nil {
		httpx.Error(w, err)
		return
	}

	session, err := h.session.Initiate(r.Context(), service.InitiateInput{
		DatasetUUID:    dataset.UUID,
		Filename:       req.Filename,
		TotalBytes:     req.TotalBytes,
		OwnerEmail:     ownerEmail,
		ChunkSizeBytes: req.ChunkSizeBytes,
	})
	if err != nil {
		httpx.Error(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId":   session.SessionID,
		"datasetUuid": dataset.UUID,
		"totalChunks": session.TotalChunks,
		"chunkSizeBytes": session.ChunkSizeBytes,
	})
}

func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}
	chunkIndex, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	expectedHash := r.Header.Get("X-Chunk-Hash")
	if err := h.session.WriteChunk(r.Context(), sessionID, chunkIndex, expectedHash, r.Body); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *UploadHandler) ResumeInfo(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}
	info, err := h.session.GetResumeInfo(r.Context(), sessionID)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, info)
}

type CompleteChunkedRequest struct {
	OverallHash string `json:"overallHash"`
}

func (h *UploadHandler) CompleteChunked(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	var req CompleteChunkedRequest
	json.NewDecoder(r.Body).Decode(&req)

	destPath, err := h.session.Complete(r.Context(), sessionID, req.OverallHash)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	progress, err := h.query.SessionProgress(r.Context(), sessionID)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	info, err := os.Stat(destPath)
	sizeBytes := int64(0)
	if err == nil {
		sizeBytes = info.Size()
	}

	if err := h.ingest.CompleteChunkedUpload(r.Context(), progress.DatasetUUID, domain.DatasetFile{
		Filename:     progress.Filename,
		SizeBytes:    sizeBytes,
		UploadedAt:   time.Now(),
		RelativePath: progress.Filename,
	}); err != nil {
		httpx.Error(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"jobId": progress.DatasetUUID.String()})
}

type InitiateRemoteRequest struct {
	CreateDatasetRequest
	Source remote.SourceConfig `json:"source"`
}

func (h *UploadHandler) InitiateRemote(w http.ResponseWriter, r *http.Request) {
	ownerEmail, _ := middleware.GetUserEmail(r.Context())

	var req InitiateRemoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	sourceConfig, err := json.Marshal(req.Source)
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}

	dataset, err := h.ingest.CreateDataset(r.Context(), service.NewDatasetInput{
		Name:           req.Name,
		OwnerEmail:     ownerEmail,
		TeamID:         req.TeamID,
		SensorKind:     req.SensorKind,
		Convert:        req.Convert,
		IsPublic:       req.IsPublic,
		IsDownloadable: req.IsDownloadable,
		Description:    req.Description,
		Folder:         req.Folder,
		Tags:           req.Tags,
		SourceConfig:   sourceConfig,
	})
	if err != nil {
		httpx.Error(w, err)
		return
	}

	if err := h.ingest.QueueRemoteSource(r.Context(), dataset.UUID); err != nil {
		httpx.Error(w, err)
		return
	}

	httpx.JSON(w, http.StatusAccepted, map[string]string{"jobId": dataset.UUID.String()})
}

func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "jobId")
	datasetUUID, err := h.query.ResolveJobHandle(r.Context(), handle)
	if err != nil {
		httpx.Error(w, err)
		return
	}

	ownerEmail, _ := middleware.GetUserEmail(r.Context())
	dataset, err := h.query.GetDataset(r.Context(), datasetUUID.String(), ownerEmail, nil)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dataset)
}

func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	datasetUUID, err := uuid.Parse(chi.URLParam(r, "jobId"))
	if err != nil {
		httpx.Error(w, apperr.ErrValidation)
		return
	}
	if err := h.ingest.Cancel(r.Context(), datasetUUID); err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *UploadHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	ownerEmail, _ := middleware.GetUserEmail(r.Context())
	status := domain.Status(r.URL.Query().Get("status"))

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}

	jobs, err := h.query.ListJobs(r.Context(), ownerEmail, status, limit, offset)
	if err != nil {
		httpx.Error(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, jobs)
}

func (h *UploadHandler) SupportedSources(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, []remote.SourceKind{remote.SourceURL, remote.SourceS3, remote.SourceGoogleDrive})
}

func (h *UploadHandler) Limits(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]int64{
		"maxFileSizeBytes": h.cfg.MaxFileSizeBytes,
		"chunkSizeBytes":   h.cfg.ChunkSizeBytes,
	})
}
