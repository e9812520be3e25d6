package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/metrics"
)

const errExportRateLimited = "Too many exports for this API, try again shortly."

// handle registers h under pattern with per-route status accounting.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.ObserveHTTP(route, strconv.Itoa(rec.status))
	})
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	env, err := s.svc.Request(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	apiID, _ := p.String("apiId", "id")
	resp, err := s.svc.Ready(r.Context(), apiID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCSV(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, _ := p.String("id", "apiId")
	path, _ := p.String("path")
	filters, err := filtersParam(p["filters"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if id != "" && !s.exportLimiter.allow(id) {
		metrics.IncExportRateLimited()
		s.log.Warn("csv export rate limited", "connection", id)
		writeJSON(w, http.StatusOK, domain.ErrorResponse{Error: errExportRateLimited})
		return
	}

	var buf bytes.Buffer
	if _, err := s.svc.Export(r.Context(), id, path, filters, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleCompliance(framework string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := readParams(w, r, s.cfg.MaxBodyBytes)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := s.svc.Compliance(r.Context(), framework, p)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	groups, err := s.svc.Catalog()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleSyscollector(w http.ResponseWriter, r *http.Request) {
	p, err := readParams(w, r, s.cfg.MaxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	apiID, _ := p.String("apiId")
	agentID, _ := p.String("agentId")
	snap, err := s.svc.Syscollector(r.Context(), apiID, agentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeError renders err as the JSON payload the front end expects. Every
// failure is reported with HTTP 200.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamErr *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrUpstreamNotReady):
		writeJSON(w, http.StatusOK, domain.NotReadyResponse{
			Status:  "200",
			Error:   domain.NotReadyErrorCode,
			Message: domain.MessageNotReady,
		})
	case errors.As(err, &upstreamErr):
		writeJSON(w, http.StatusOK, map[string]int{"error": upstreamErr.Code})
	default:
		writeJSON(w, http.StatusOK, domain.ErrorResponse{Error: err.Error()})
	}
	if !errors.Is(err, domain.ErrMissingParameter) && !errors.Is(err, domain.ErrUpstreamNotReady) {
		s.log.Warn("request failed", "path", r.URL.Path, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
