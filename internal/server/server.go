// Package server exposes the mixing session over a JSON REST API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/satindergrewal/duet/internal/engine"
	apperrors "github.com/satindergrewal/duet/internal/errors"
	"github.com/satindergrewal/duet/internal/export"
	"github.com/satindergrewal/duet/internal/project"
)

// Config holds server configuration
type Config struct {
	Port           int
	MaxUploadBytes int64
}

// Deps are the components the API drives. Store and the stream handlers
// are optional; their routes answer 503 or are not mounted when nil.
type Deps struct {
	Engine   *engine.Engine
	Exporter *export.Exporter
	Store    *project.Store

	Stream   http.Handler // chunked MP3 monitor
	Offer    http.Handler // WebRTC monitor negotiation
	MicOffer http.Handler // WebRTC microphone negotiation
}

// Server is the HTTP server
type Server struct {
	config  Config
	router  *chi.Mux
	engine  *engine.Engine
	exports *export.Exporter
	store   *project.Store
	stems   *StemJobs

	// outlives requests; background work started by handlers uses it
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new server
func New(cfg Config, d Deps) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		engine:  d.Engine,
		exports: d.Exporter,
		store:   d.Store,
		stems:   NewStemJobs(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.setupRoutes(d)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(d Deps) {
	r := s.router

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/reset", s.handleReset)

		r.Post("/tracks/{kind}", s.handleLoadTrack)
		r.Delete("/tracks/{kind}", s.handleUnloadTrack)
		r.Get("/settings/{kind}", s.handleGetSettings)
		r.Put("/settings/{kind}", s.handlePutSettings)

		r.Post("/transport/{action}", s.handleTransport)
		r.Post("/offset", s.handleOffset)

		r.Post("/mic/start", s.handleMicStart)
		r.Post("/mic/stop", s.handleMicStop)

		r.Post("/export/audio", s.handleExportStart(export.Audio))
		r.Post("/export/video", s.handleExportStart(export.Video))
		r.Get("/export/{id}", s.handleExportStatus)
		r.Delete("/export/{id}", s.handleExportCancel)
		r.Get("/export/{id}/download", s.handleExportDownload)

		r.Post("/stems", s.handleStemsUpload)
		r.Get("/stems/{id}", s.handleStemsStatus)
		r.Get("/stems/{id}/{stem}", s.handleStemsDownload)
		r.Post("/stems/{id}/load", s.handleStemsLoad)

		r.Get("/project", s.handleProjectGet)
		r.Put("/project", s.handleProjectPut)
		r.Get("/projects", s.handleProjectsList)
		r.Get("/projects/{name}", s.handleProjectsGet)
		r.Put("/projects/{name}", s.handleProjectsSave)
		r.Delete("/projects/{name}", s.handleProjectsDelete)
		r.Post("/projects/{name}/load", s.handleProjectsLoad)
	})

	if d.Stream != nil {
		r.Get("/stream", d.Stream.ServeHTTP)
	}
	if d.Offer != nil {
		r.Handle("/offer", d.Offer)
	}
	if d.MicOffer != nil {
		r.Handle("/mic/offer", d.MicOffer)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.cancel()
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute, // large uploads
		WriteTimeout: 0,               // /stream is open-ended
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Println("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		close(done)
	}()

	log.Printf("duet listening on :%d", s.config.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}

// Close cancels background work started by handlers.
func (s *Server) Close() {
	s.cancel()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	writeMessage(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		decodeErr *apperrors.DecodeError
		permErr   *apperrors.PermissionError
		sepErr    *apperrors.SeparationError
		emptyErr  *apperrors.ExportEmptyError
	)
	// separation wraps its decode failure, so it is matched first
	switch {
	case errors.As(err, &sepErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &decodeErr):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &permErr):
		return http.StatusForbidden
	case errors.As(err, &emptyErr):
		return http.StatusInternalServerError
	case errors.Is(err, apperrors.ErrNoTracks),
		errors.Is(err, apperrors.ErrExportBusy),
		errors.Is(err, apperrors.ErrAlreadyRecording),
		errors.Is(err, apperrors.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, project.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
