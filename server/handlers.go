package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/naligeo/geo"
	"github.com/petal-labs/naligeo/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

type healthResponse struct {
	Available bool          `json:"available"`
	Error     *apiErrorBody `json:"error,omitempty"`
}

// handleHealth reports whether the nali program is usable right now.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Error: &apiErrorBody{
				Code:    geo.ErrorCodeToolUnavailable,
				Reason:  geo.Reason(err),
				Message: err.Error(),
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Available: true})
}

type resolveResponse struct {
	IP string `json:"ip"`
	geo.Location
}

// handleResolve looks up one IP and records the outcome in history.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.PathValue("ip"))

	start := time.Now()
	loc, err := s.service.Lookup(r.Context(), ip)
	s.recordHistory(r, ip, loc, err, time.Since(start))

	if err != nil {
		code, reason := geo.Code(err), geo.Reason(err)
		switch {
		case reason == geo.ErrorCodeInvalidRequest:
			writeError(w, http.StatusBadRequest, geo.ErrorCodeInvalidRequest, reason, err.Error())
		case code == geo.ErrorCodeToolUnavailable:
			writeError(w, http.StatusServiceUnavailable, code, reason, err.Error())
		default:
			if code == "" {
				code = geo.ErrorCodeCityLookupFailed
			}
			writeError(w, http.StatusUnprocessableEntity, code, reason, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{IP: ip, Location: loc})
}

func (s *Server) recordHistory(r *http.Request, ip string, loc geo.Location, err error, elapsed time.Duration) {
	if s.history == nil || geo.Code(err) == geo.ErrorCodeToolUnavailable {
		return
	}
	if _, appendErr := s.history.Append(r.Context(), history.EntryFor(ip, loc, err, elapsed)); appendErr != nil {
		s.logger.Warn("history append failed", "ip", ip, "error", appendErr)
	}
}

// handleListHistory returns recent lookups, newest first.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "HISTORY_DISABLED", "", "history store is not configured")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, geo.ErrorCodeInvalidRequest, "", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.List(r.Context(), history.ListFilter{
		IP:    strings.TrimSpace(r.URL.Query().Get("ip")),
		Limit: limit,
	})
	if err != nil {
		s.logger.Error("history list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "", err.Error())
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
