package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/xfeldman/mcpool/internal/config"
	"github.com/xfeldman/mcpool/internal/mcp"
	"github.com/xfeldman/mcpool/internal/pool"
)

// Server API request/response types

type addServerRequest struct {
	ID      string            `json:"id"`
	Name    string            `json:"name,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type serverStatusResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	State           string `json:"state"`
	Healthy         bool   `json:"healthy"`
	LastError       string `json:"last_error,omitempty"`
	LastHealthCheck string `json:"last_health_check,omitempty"`
	LatencyMS       int64  `json:"latency_ms,omitempty"`
}

type checkResponse struct {
	ID        string `json:"id"`
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type resourceResponse struct {
	ServerID    string `json:"server_id,omitempty"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

type readResourceRequest struct {
	URI string `json:"uri"`
}

type readResourceResponse struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}

func statusToResponse(st pool.ServerStatus) serverStatusResponse {
	resp := serverStatusResponse{
		ID:        st.ServerID,
		Name:      st.Name,
		State:     string(st.State),
		Healthy:   st.Healthy,
		LastError: st.LastError,
		LatencyMS: st.Latency.Milliseconds(),
	}
	if !st.LastHealthCheck.IsZero() {
		resp.LastHealthCheck = st.LastHealthCheck.Format(time.RFC3339)
	}
	return resp
}

// handleListServers returns the status of every pooled server.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	statuses := s.pool.ServerStatuses()
	resp := make([]serverStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, statusToResponse(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAddServer registers a new server and starts connecting it.
func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if !isValidID(req.ID) {
		writeError(w, http.StatusBadRequest, "invalid server id (alphanumeric, hyphens, underscores only)")
		return
	}

	if _, exists := s.pool.GetStatus(req.ID); exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("server %q already in pool", req.ID))
		return
	}

	sc := &config.ServerConfig{
		ID:      req.ID,
		Name:    req.Name,
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
	}
	if err := s.pool.AddServer(sc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("server added via API: %s (%s)", req.ID, req.Command)
	st, _ := s.pool.GetStatus(req.ID)
	writeJSON(w, http.StatusCreated, statusToResponse(st))
}

// handleGetServer returns one server's status.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	st, ok := s.pool.GetStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, statusToResponse(st))
}

// handleRemoveServer drops a server from the pool and deletes its logs.
func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, ok := s.pool.GetStatus(id); !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}

	if err := s.pool.RemoveServer(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.logs != nil {
		s.logs.Remove(id)
	}

	log.Printf("server removed via API: %s", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleCheckServer runs a health probe now. The probe outcome is the
// response body; only an unknown id is an HTTP error.
func (s *Server) handleCheckServer(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	err := s.pool.HealthCheck(r.Context(), id)
	if errors.Is(err, pool.ErrUnknownServer) {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}

	st, _ := s.pool.GetStatus(id)
	resp := checkResponse{
		ID:        id,
		Healthy:   err == nil,
		LatencyMS: st.Latency.Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleServerLogs streams a server's captured stderr as NDJSON.
func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, ok := s.pool.GetStatus(id); !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}

	q := r.URL.Query()
	follow := q.Get("follow") == "true"
	tail := 0
	if v := q.Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		tail = n
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if s.logs == nil {
		return
	}

	if follow {
		sl := s.logs.GetOrCreate(id)
		ch, existing, unsub := sl.Subscribe()
		defer unsub()

		if tail > 0 && len(existing) > tail {
			existing = existing[len(existing)-tail:]
		}
		for _, e := range existing {
			streamJSON(w, e)
		}

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				streamJSON(w, e)
			}
		}
	}

	sl := s.logs.Get(id)
	if sl == nil {
		return
	}
	for _, e := range sl.Read(time.Time{}, tail) {
		streamJSON(w, e)
	}
}

// handleServerResources lists resources from one server.
func (s *Server) handleServerResources(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	c := s.clientFor(w, id)
	if c == nil {
		return
	}

	resources, err := c.ListResources(r.Context())
	if err != nil {
		if errors.Is(err, mcp.ErrNotInitialized) {
			writeError(w, http.StatusConflict, "server is not ready")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]resourceResponse, 0, len(resources))
	for _, res := range resources {
		resp = append(resp, resourceResponse{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MimeType:    res.MimeType,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReadResource reads one resource's text through a server.
func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	c := s.clientFor(w, id)
	if c == nil {
		return
	}

	var req readResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	text, err := c.ReadResource(r.Context(), req.URI)
	if err != nil {
		if errors.Is(err, mcp.ErrNotInitialized) {
			writeError(w, http.StatusConflict, "server is not ready")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, readResourceResponse{URI: req.URI, Text: text})
}

// handleAllResources lists resources across every ready server.
func (s *Server) handleAllResources(w http.ResponseWriter, r *http.Request) {
	all := s.pool.AllResources(r.Context())
	resp := make([]resourceResponse, 0, len(all))
	for _, sr := range all {
		resp = append(resp, resourceResponse{
			ServerID:    sr.ServerID,
			URI:         sr.Resource.URI,
			Name:        sr.Resource.Name,
			Description: sr.Resource.Description,
			MimeType:    sr.Resource.MimeType,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientFor resolves a server id to its client, writing the HTTP error
// itself when there is none.
func (s *Server) clientFor(w http.ResponseWriter, id string) *mcp.Client {
	if _, ok := s.pool.GetStatus(id); !ok {
		writeError(w, http.StatusNotFound, "server not found")
		return nil
	}
	c, ok := s.pool.GetClient(id)
	if !ok {
		writeError(w, http.StatusConflict, "server has no active connection")
		return nil
	}
	return c
}
