package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/kbingest/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/kbingest/internal/api/middlewares"
	"github.com/markdave123-py/kbingest/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, a *App) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, a),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func NewRouter(cfg *config.Config, a *App) http.Handler {
	docHandler := handlers.NewDocumentHandler(a.Documents, a.Job, a.Processor)
	chatHandler := handlers.NewChatHandler(a.Retriever, cfg.ContextMaxTokens)
	backendHandler := handlers.NewBackendHandler(a.Selector)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Get("/documents/{id}", docHandler.GetDocument)
			protected.Post("/documents/{id}/ingest", docHandler.IngestDocument)
			protected.Post("/documents/{id}/reprocess", docHandler.ReprocessDocument)
			protected.Get("/documents/{id}/chunks", docHandler.ListChunks)
			protected.Delete("/documents/{id}/chunks", docHandler.DeleteChunks)

			protected.Get("/ai/backend", backendHandler.Info)

			protected.Post("/search", chatHandler.Search)
			protected.Post("/chat/query", chatHandler.QueryDocument)

			// cross-tenant actions
			protected.Group(func(operator chi.Router) {
				operator.Use(appMiddleware.RequireOperator)
				operator.Post("/documents/ingest/batch", docHandler.IngestBatch)
				operator.Get("/admin/chunks/stats", docHandler.ChunkStats)
			})
		})
	})

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
