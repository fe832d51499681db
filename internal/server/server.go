package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/audiolibrelab/voxcollect/internal/config"
	"github.com/audiolibrelab/voxcollect/internal/corpus"
	"github.com/audiolibrelab/voxcollect/internal/metrics"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Server is the collection HTTP server
type Server struct {
	cfg        *config.Config
	catalog    *corpus.Catalog
	metrics    *metrics.Metrics
	controller *session.Controller
	validate   *validator.Validate
}

type Option func(*Server)

// WithController enables remote control of a server-side recording session
func WithController(ctrl *session.Controller) Option {
	return func(s *Server) { s.controller = ctrl }
}

// GenericResponse represents a generic API response
type GenericResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Error   string            `json:"error,omitempty"`
	Session *session.Snapshot `json:"session,omitempty"`
}

// New creates a new server instance
func New(cfg *config.Config, catalog *corpus.Catalog, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		catalog:  catalog,
		metrics:  m,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the routing table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.withMetrics("/", s.handleIndex))
	mux.HandleFunc("GET /get-sentence", s.withMetrics("/get-sentence", s.handleGetSentence))
	mux.HandleFunc("POST /upload-audio", s.withMetrics("/upload-audio", s.handleUploadAudio))
	mux.HandleFunc("GET /api/stats", s.withMetrics("/api/stats", s.handleStats))
	mux.Handle("GET /metrics", s.metrics.Handler())

	if s.controller != nil {
		mux.HandleFunc("GET /api/session/status", s.withMetrics("/api/session/status", s.handleSessionStatus))
		mux.HandleFunc("POST /api/session/start", s.withMetrics("/api/session/start", s.handleSessionStart))
		mux.HandleFunc("POST /api/session/stop", s.withMetrics("/api/session/stop", s.handleSessionStop))
		mux.HandleFunc("POST /api/session/submit", s.withMetrics("/api/session/submit", s.handleSessionSubmit))
		mux.HandleFunc("POST /api/session/cancel", s.withMetrics("/api/session/cancel", s.handleSessionCancel))
		mux.HandleFunc("POST /api/session/skip", s.withMetrics("/api/session/skip", s.handleSessionSkip))
		mux.HandleFunc("POST /api/session/login", s.withMetrics("/api/session/login", s.handleSessionLogin))
		mux.HandleFunc("POST /api/session/logout", s.withMetrics("/api/session/logout", s.handleSessionLogout))
		mux.HandleFunc("GET /api/session/preview/{id}", s.withMetrics("/api/session/preview", s.handleSessionPreview))
	}

	// health stays reachable for load balancers without credentials
	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("/", s.basicAuth(mux))
	return root
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Address, strconv.Itoa(s.cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheme := "http"
	if s.cfg.Server.TLSCert != "" {
		scheme = "https"
	}

	slog.Info("Starting voxcollect server",
		"address", addr,
		"local_url", fmt.Sprintf("%s://%s:%d", scheme, getLocalIP(), s.cfg.Server.Port),
		"auth", s.cfg.Server.Password != "",
		"capture", s.controller != nil)
	if s.cfg.LocalDev() {
		slog.Info("Starting in local mode. Data will NOT be backed up to S3")
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if scheme == "https" {
			err = httpServer.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// basicAuth expects the shared password as both user name and password
func (s *Server) basicAuth(next http.Handler) http.Handler {
	password := s.cfg.Server.Password
	if password == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(password)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="voxcollect"`)
			s.sendErrorResponse(w, http.StatusUnauthorized, "Invalid credentials", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIndex serves the web UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	writeJSON(w, statusCode, GenericResponse{Success: false, Error: errorMsg})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
