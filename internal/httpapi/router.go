// Package httpapi serves media files and read-only JSON views over HTTP.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type Config struct {
	Manager *media.Manager
	Users   middleware.UserStore
	Auth    *middleware.Authenticator
	DB      Pinger
	Metrics http.Handler

	// FilesRoot and FilesURL expose a filesystem storage root. Both empty
	// means stored files are addressed elsewhere (S3).
	FilesRoot string
	FilesURL  string

	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the routes and wraps them in CORS handling.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth == nil {
		cfg.Auth = middleware.NewAuthenticator(nil, "")
	}
	h := &handler{manager: cfg.Manager, users: cfg.Users, logger: cfg.Logger}

	r := mux.NewRouter()
	r.Handle("/health", NewHealthChecker(cfg.DB)).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics).Methods(http.MethodGet)
	}

	// Serving stays public like the stored files themselves; a principal,
	// when present, is recorded on the media_served event.
	r.Handle("/media/{id:[0-9]+}/serve/{filename}", optionalAuth(cfg.Auth)(http.HandlerFunc(h.serve))).
		Methods(http.MethodGet)

	api := r.PathPrefix("/media").Subrouter()
	api.Use(cfg.Auth.HTTP)
	api.HandleFunc("/", h.index).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}/", h.detail).Methods(http.MethodGet)
	api.HandleFunc("/usage/{id:[0-9]+}", h.usage).Methods(http.MethodGet)

	if cfg.FilesRoot != "" && cfg.FilesURL != "" {
		prefix := "/" + strings.Trim(cfg.FilesURL, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.FilesRoot))))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-API-Key", "X-User-ID", "Content-Type"},
		ExposedHeaders: []string{"Content-Length", "Content-Disposition"},
	})
	return c.Handler(r)
}

// optionalAuth attaches a principal when credentials are sent and valid, and
// lets anonymous requests through.
func optionalAuth(auth *middleware.Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.Enabled() || (r.Header.Get("Authorization") == "" && r.Header.Get("X-API-Key") == "") {
				next.ServeHTTP(w, r)
				return
			}
			auth.HTTP(next).ServeHTTP(w, r)
		})
	}
}
