package api

import (
	"net/http"

	"github.com/dom/ingest-pipeline/internal/api/handlers"
	"github.com/dom/ingest-pipeline/internal/api/middleware"
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/service"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/dom/ingest-pipeline/internal/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(services *service.Services, hub *websocket.Hub, layout *storage.Layout, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	authHandler := handlers.NewAuthHandler(services.Auth)
	uploadHandler := handlers.NewUploadHandler(services.Ingest, services.UploadSession, services.Query, layout, cfg)
	queryHandler := handlers.NewQueryHandler(services.Query)
	progressHandler := handlers.NewProgressHandler(hub, services.Query)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(services.Auth))
				r.Get("/me", authHandler.Me)
				r.Post("/logout", authHandler.Logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Auth))

			r.Route("/upload", func(r chi.Router) {
				r.Post("/file", uploadHandler.CreateWholeFile)
				r.Post("/chunked/initiate", uploadHandler.InitiateChunked)
				r.Put("/chunked/{sessionId}/chunk/{index}", uploadHandler.UploadChunk)
				r.Get("/chunked/{sessionId}/resume", uploadHandler.ResumeInfo)
				r.Post("/chunked/{sessionId}/complete", uploadHandler.CompleteChunked)
				r.Post("/remote", uploadHandler.InitiateRemote)
				r.Get("/status/{jobId}", uploadHandler.Status)
				r.Get("/status/{jobId}/ws", progressHandler.Handle)
				r.Post("/cancel/{jobId}", uploadHandler.Cancel)
				r.Get("/jobs", uploadHandler.Jobs)
				r.Get("/sources", uploadHandler.SupportedSources)
				r.Get("/limits", uploadHandler.Limits)
			})

			r.Route("/datasets", func(r chi.Router) {
				r.Get("/{identifier}", queryHandler.GetDataset)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/{sessionId}/progress", queryHandler.SessionProgress)
			})
		})
	})

	return r
}
