// Package server exposes the camera over HTTP: websocket viewer sessions
// on the broadcast channels, the generated images as static files, a
// small control API, and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/gorilla/websocket"

	"github.com/virtcam/virtcamd/internal/broadcast"
	"github.com/virtcam/virtcamd/internal/events"
	"github.com/virtcam/virtcamd/internal/logging"
	"github.com/virtcam/virtcamd/internal/version"
)

// Well-known channel routes. A viewer picks its stream by path, never by
// negotiation.
var channelRoutes = map[string]string{
	"/ws/camera": "camera",
	"/ws/shoot":  "shoot",
	"/ws/mode":   "mode",
}

// Options configures the HTTP server.
type Options struct {
	Registry *broadcast.Registry
	EventBus *events.Bus

	// ImageDir is served read-only under /images/ so viewers can fetch
	// frame references.
	ImageDir string

	// PrometheusHandler, when set, is mounted at /metrics.
	PrometheusHandler http.Handler
}

// Server is the camera-facing HTTP server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	upgrader   websocket.Upgrader
	options    *Options
	logger     *slog.Logger
}

// NewServer wires routes and returns an unstarted server.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()
	humaConfig := huma.DefaultConfig("virtcamd", version.Version)
	api := humago.New(mux, humaConfig)

	server := &Server{
		api: api,
		mux: mux,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		options: opts,
		logger:  logging.GetLogger("server"),
	}

	for route := range channelRoutes {
		mux.HandleFunc("GET "+route, server.handleWS)
	}

	if opts.ImageDir != "" {
		mux.Handle("GET /images/", noCache(http.StripPrefix("/images/", http.FileServer(http.Dir(opts.ImageDir)))))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server.registerControlRoutes()

	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// Start starts the HTTP server on the specified address.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting camera server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping camera server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// noCache disables client caching. Frame files are overwritten in place
// under the retention window, so a cached image would be a wrong image.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		next.ServeHTTP(w, r)
	})
}
