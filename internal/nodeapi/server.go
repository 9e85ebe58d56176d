// Package nodeapi is the node's local HTTP surface: a
// small approval shim so a human operator sitting at the node can approve
// or deny a pending tool call without going through the hive, following
// internal/hiveapi's chi.Router shape (health route, r.Route grouping).
package nodeapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"swarmhive/internal/apperr"
	"swarmhive/internal/approval"
)

// Server exposes internal/approval's Create/Respond seam over HTTP.
type Server struct {
	approvals *approval.Service
	log       *log.Logger
}

// New creates a Server. logger may be nil.
func New(approvals *approval.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "node-api ", log.LstdFlags|log.LUTC)
	}
	return &Server{approvals: approvals, log: logger}
}

// Router builds the node's chi.Router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1/approvals", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Post("/{id}/respond", s.handleRespond)
	})

	return r
}

type createRequest struct {
	ToolCallID         string    `json:"tool_call_id"`
	ExecutionProcessID string    `json:"execution_process_id"`
	ToolName           string    `json:"tool_name"`
	Questions          []string  `json:"questions,omitempty"`
	TimeoutAt          time.Time `json:"timeout_at"`
}

// handleCreate starts an approval and waits (at most 200ms, or less if the
// request's context ends first; not the approval's own timeout) for a
// terminal status, so a caller polling synchronously gets the outcome in one
// round trip when it lands quickly, and a 202 plus the approval otherwise.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	pending, ch, err := s.approvals.Create(r.Context(), approval.Request{
		ToolCallID:         req.ToolCallID,
		ExecutionProcessID: req.ExecutionProcessID,
		ToolName:           req.ToolName,
		Questions:          req.Questions,
		TimeoutAt:          req.TimeoutAt,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	select {
	case status := <-ch:
		writeJSON(w, http.StatusOK, map[string]any{"approval": pending, "status": status})
	case <-r.Context().Done():
		writeJSON(w, http.StatusAccepted, map[string]any{"approval": pending})
	case <-time.After(200 * time.Millisecond):
		writeJSON(w, http.StatusAccepted, map[string]any{"approval": pending})
	}
}

type respondRequest struct {
	Status       approval.ResponseStatus `json:"status"`
	Answers      map[string]string       `json:"answers,omitempty"`
	DeniedReason string                  `json:"denied_reason,omitempty"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	status, err := s.approvals.Respond(r.Context(), id, approval.Response{
		Status:       req.Status,
		Answers:      req.Answers,
		DeniedReason: req.DeniedReason,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeErr(w http.ResponseWriter, err error) {
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case apperr.ErrAlreadyDone:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
