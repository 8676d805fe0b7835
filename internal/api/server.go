// Package api exposes the pool over mcpoold's unix-socket HTTP API.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/xfeldman/mcpool/internal/config"
	"github.com/xfeldman/mcpool/internal/history"
	"github.com/xfeldman/mcpool/internal/logstore"
	"github.com/xfeldman/mcpool/internal/pool"
	"github.com/xfeldman/mcpool/internal/version"
)

// Server is the mcpoold HTTP API server.
type Server struct {
	cfg     *config.Config
	pool    *pool.Manager
	history *history.Store
	logs    *logstore.Store
	mux     *http.ServeMux
	server  *http.Server
	ln      net.Listener
}

// NewServer creates a new API server. The history and log stores may be
// nil; the matching endpoints then answer with empty results.
func NewServer(cfg *config.Config, p *pool.Manager, hist *history.Store, logs *logstore.Store) *Server {
	s := &Server{
		cfg:     cfg,
		pool:    p,
		history: hist,
		logs:    logs,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /v1/status", s.handleStatus)
	s.mux.HandleFunc("GET /v1/servers", s.handleListServers)
	s.mux.HandleFunc("POST /v1/servers", s.handleAddServer)
	s.mux.HandleFunc("GET /v1/servers/{id}", s.handleGetServer)
	s.mux.HandleFunc("DELETE /v1/servers/{id}", s.handleRemoveServer)
	s.mux.HandleFunc("POST /v1/servers/{id}/check", s.handleCheckServer)
	s.mux.HandleFunc("GET /v1/servers/{id}/logs", s.handleServerLogs)
	s.mux.HandleFunc("GET /v1/servers/{id}/resources", s.handleServerResources)
	s.mux.HandleFunc("POST /v1/servers/{id}/resources/read", s.handleReadResource)
	s.mux.HandleFunc("GET /v1/resources", s.handleAllResources)
	s.mux.HandleFunc("GET /v1/tools", s.handleListTools)
	s.mux.HandleFunc("POST /v1/tools/{name}/call", s.handleCallTool)
	s.mux.HandleFunc("GET /v1/history", s.handleHistory)
	s.mux.HandleFunc("GET /v1/history/export", s.handleHistoryExport)
}

// Start begins listening on the unix socket.
func (s *Server) Start() error {
	// Remove stale socket
	os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.ln = ln

	os.Chmod(s.cfg.SocketPath, 0600)

	log.Printf("mcpoold API listening on %s", s.cfg.SocketPath)

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Status response

type statusResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Strategy  string `json:"strategy"`
	Servers   int    `json:"servers"`
	Ready     int    `json:"ready"`
	Tools     int    `json:"tools"`
	Conflicts int    `json:"conflicts"`
	Events    int    `json:"events"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.pool.ServerStatuses()
	ready := 0
	for _, st := range statuses {
		if st.Healthy {
			ready++
		}
	}
	events := 0
	if s.history != nil {
		if counts, err := s.history.CountByType(); err == nil {
			for _, n := range counts {
				events += n
			}
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "running",
		Version:   version.Version(),
		Strategy:  s.pool.Strategy().Name(),
		Servers:   len(statuses),
		Ready:     ready,
		Tools:     len(s.pool.AllTools()),
		Conflicts: len(s.pool.Conflicts()),
		Events:    events,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []*history.Event{})
		return
	}

	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := s.history.Recent(limit, q.Get("server"), q.Get("type"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*history.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleHistoryExport streams the whole event log as gzip-compressed
// NDJSON, oldest first.
func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history not available")
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="mcpool-history.ndjson.gz"`)
	if err := s.history.Export(w); err != nil {
		log.Printf("history export: %v", err)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathParam extracts a path parameter from the request.
// For Go 1.22+ with "GET /v1/servers/{id}" patterns.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// streamJSON writes newline-delimited JSON values to a flushing writer.
func streamJSON(w http.ResponseWriter, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}

// isValidID checks if an ID string is safe.
func isValidID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	for _, c := range id {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_') {
			return false
		}
	}
	return !strings.Contains(id, "..")
}
