package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bobarin/memorial/internal/storage"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// AllowedOrigins for CORS. Empty means every origin.
	AllowedOrigins []string

	// StaticDir is the public root served under /static/.
	StaticDir string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/health", h.Health)
	r.Get("/view/{id}", h.GetPerson)

	if cfg.StaticDir != "" {
		r.Handle(storage.StaticPrefix+"*", http.StripPrefix(storage.StaticPrefix, http.FileServer(fileOnlyFS{http.Dir(cfg.StaticDir)})))
	}

	r.Route("/v1", func(r chi.Router) {
		// The viewer is reachable from the QR code without credentials.
		r.Get("/persons/{id}", h.GetPerson)

		// Admin routes
		r.Group(func(r chi.Router) {
			if cfg.BackendAPIKey != "" {
				r.Use(APIKeyAuth(cfg.BackendAPIKey))
			}

			r.Get("/persons", h.ListPersons)
			r.Post("/persons", h.CreatePerson)
			r.Post("/persons/{id}/images", h.UploadImages)
			r.Post("/persons/{id}/video", h.GenerateVideo)

			r.Get("/export/pdf", h.ExportPDF)
			r.Get("/export/xlsx", h.ExportXLSX)
		})
	})

	return r
}

// fileOnlyFS hides directory listings and dotfiles from the static server.
type fileOnlyFS struct {
	fs http.FileSystem
}

func (f fileOnlyFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, os.ErrNotExist
		}
	}

	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}
