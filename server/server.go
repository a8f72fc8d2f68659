// Package server exposes the geolocation service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/petal-labs/naligeo/geo"
	"github.com/petal-labs/naligeo/history"
)

// LocationService is the subset of geo.Service used by the HTTP API.
type LocationService interface {
	Ready(ctx context.Context) error
	Lookup(ctx context.Context, ip string) (geo.Location, error)
}

// HistoryStore persists and lists lookup outcomes.
type HistoryStore interface {
	Append(ctx context.Context, entry history.Entry) (history.Entry, error)
	List(ctx context.Context, filter history.ListFilter) ([]history.Entry, error)
}

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Service    LocationService
	History    HistoryStore // optional
	CORSOrigin string
	Logger     *slog.Logger
}

// Server is the naligeo HTTP API server.
type Server struct {
	service    LocationService
	history    HistoryStore
	corsOrigin string
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &Server{
		service:    cfg.Service,
		history:    cfg.History,
		corsOrigin: corsOrigin,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.corsMiddleware(mux)
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/resolve/{ip}", s.handleResolve)
	mux.HandleFunc("GET /api/history", s.handleListHistory)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, reason, message string) {
	writeJSON(w, status, apiError{
		Error: apiErrorBody{
			Code:    code,
			Reason:  reason,
			Message: message,
		},
	})
}
