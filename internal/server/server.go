// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the HTTP server for the web dashboard and REST API.
package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avfield/kittifetch/internal/assets"
	"github.com/avfield/kittifetch/pkg/kittiraw"
)

// serverVersion is reported by /api/health and the WebSocket init message.
const serverVersion = "1.2.0"

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	DataRoot       string   // target root for the dataset tree (not configurable via API)
	Transport      string   // "https" or "s3"
	BaseURL        string   // base URL archives are fetched from
	Endpoint       string   // custom S3 endpoint (e.g., for mirrors)
	Retries        int      // retry attempts per archive
	LogLevel       string   // debug, info, warn, error
	AllowedOrigins []string // CORS origins
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      "0.0.0.0",
		Port:      8080,
		DataRoot:  kittiraw.DefaultRoot(),
		Transport: kittiraw.TransportHTTPS,
		BaseURL:   kittiraw.DefaultBaseURL,
		LogLevel:  "info",
	}
}

// Server is the HTTP server for kittifetch.
type Server struct {
	config     Config
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
	log        *slog.Logger
}

// New creates a new server with the given configuration.
func New(cfg Config) *Server {
	log := newLogger(cfg.LogLevel)
	wsHub := NewWSHub(log)
	s := &Server{
		config: cfg,
		jobs:   NewJobManager(cfg, wsHub, log),
		wsHub:  wsHub,
		log:    log,
	}
	return s
}

func newLogger(level string) *slog.Logger {
	lo := &slog.HandlerOptions{}
	switch strings.ToLower(level) {
	case "debug":
		lo.Level = slog.LevelDebug
	case "warn":
		lo.Level = slog.LevelWarn
	case "error":
		lo.Level = slog.LevelError
	default:
		lo.Level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, lo))
}

// Handler returns the server's HTTP handler: API routes, WebSocket
// endpoint, and the embedded dashboard, wrapped in CORS and request
// logging. Exposed separately from ListenAndServe so tests can drive
// the full stack through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	s.registerAPIRoutes(mux)

	// Static files (embedded)
	staticFS := assets.StaticFS()
	fileServer := http.FileServer(http.FS(staticFS))

	// Serve index.html for SPA routes
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Try to serve the file directly
		path := r.URL.Path
		if path == "/" {
			path = "/index.html"
		}

		// Check if file exists
		if f, err := staticFS.(fs.ReadFileFS).ReadFile(path[1:]); err == nil {
			// Serve with correct content type
			contentType := "text/html; charset=utf-8"
			switch {
			case len(path) > 4 && path[len(path)-4:] == ".css":
				contentType = "text/css; charset=utf-8"
			case len(path) > 3 && path[len(path)-3:] == ".js":
				contentType = "application/javascript; charset=utf-8"
			case len(path) > 5 && path[len(path)-5:] == ".json":
				contentType = "application/json; charset=utf-8"
			case len(path) > 4 && path[len(path)-4:] == ".svg":
				contentType = "image/svg+xml"
			}
			w.Header().Set("Content-Type", contentType)
			w.Write(f)
			return
		}

		// Fallback to index.html for SPA routing
		fileServer.ServeHTTP(w, r)
	})

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Start WebSocket hub
	go s.wsHub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting", "url", "http://"+addr)
	s.log.Info("dashboard", "url", fmt.Sprintf("http://localhost:%d", s.config.Port))
	s.log.Info("target root", "path", s.config.DataRoot)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Fetch runs
	mux.HandleFunc("POST /api/fetch", s.handleStartFetch)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	// Catalog
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	// Plan (dry-run)
	mux.HandleFunc("POST /api/plan", s.handlePlan)

	// WebSocket
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Allow same-origin and configured origins
		if origin != "" {
			allowed := false
			if len(s.config.AllowedOrigins) == 0 {
				// Default: allow same host
				allowed = true
			} else {
				for _, o := range s.config.AllowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
