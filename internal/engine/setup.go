package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
)

// Mount registers additional routes (admin pages, public site, payment callbacks, media).
type Mount func(router *mux.Router)

// SetupConfig holds configuration for the engine HTTP handler.
type SetupConfig struct {
	Store   *Store
	Bus     CommandBus
	Logger  *slog.Logger
	APIKey  string
	Title   string
	Version string
	Mounts  []Mount
}

// Setup creates the router: middleware, health, the generic JSON:API, the
// OpenAPI document and every mount, in that order.
func Setup(cfg SetupConfig) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Title == "" {
		cfg.Title = "Ringside API"
	}

	router := mux.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestIDHeader)
	router.Use(accessLog(cfg.Logger.With("component", "http")))
	router.Use(middleware.Recoverer)
	router.Use(AuthMiddleware(cfg.Store, cfg.APIKey, cfg.Logger))

	// Health endpoints
	router.HandleFunc("/health", healthHandler(cfg.Version)).Methods("GET")
	router.HandleFunc("/ready", readyHandler(cfg.Store)).Methods("GET")

	RegisterRoutes(router, APIConfig{
		Store:  cfg.Store,
		Bus:    cfg.Bus,
		Logger: cfg.Logger,
	})
	router.HandleFunc("/api/openapi.json", openAPIHandler(cfg.Store.Resources(), cfg.Title, cfg.Version)).Methods("GET")

	for _, m := range cfg.Mounts {
		m(router)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		http.NotFound(w, r)
	})

	return router
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDHeader copies the request ID to the response header.
func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// =============================================================================
// Health
// =============================================================================

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "version": version})
	}
}

func readyHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "not_ready",
				"checks": map[string]string{"database": "failed"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ready",
			"checks": map[string]string{"database": "ok"},
		})
	}
}
