package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xfeldman/mcpool/internal/pool"
)

type toolsResponse struct {
	Tools     map[string]string   `json:"tools"`               // tool name -> serving server id
	Conflicts map[string][]string `json:"conflicts,omitempty"` // tool name -> every advertiser
}

type callToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type callToolResponse struct {
	ServerID   string `json:"server_id"`
	Content    any    `json:"content"`
	IsError    bool   `json:"is_error"`
	MimeType   string `json:"mime_type,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// handleListTools returns the routing table and the names advertised by
// more than one server.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	resp := toolsResponse{
		Tools:     s.pool.AllTools(),
		Conflicts: s.pool.Conflicts(),
	}
	if len(resp.Conflicts) == 0 {
		resp.Conflicts = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCallTool routes a tool call through the pool's strategy.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")

	var req callToolRequest
	json.NewDecoder(r.Body).Decode(&req) // optional body

	start := time.Now()
	res, id, err := s.pool.CallTool(r.Context(), name, req.Arguments)
	if err != nil {
		if errors.Is(err, pool.ErrNoServerForTool) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("server %s: %v", id, err))
		return
	}

	writeJSON(w, http.StatusOK, callToolResponse{
		ServerID:   id,
		Content:    res.Content,
		IsError:    res.IsError,
		MimeType:   res.MimeType,
		DurationMS: time.Since(start).Milliseconds(),
	})
}
