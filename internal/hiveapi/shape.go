package hiveapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// shapeMessage mirrors the wire format internal/shape.Consumer parses: one
// NDJSON line per insert/update/delete, or a control frame.
type shapeMessage struct {
	Headers struct {
		Operation string `json:"operation,omitempty"`
		Control   string `json:"control,omitempty"`
	} `json:"headers"`
	Key   *string         `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func insertMessage(key string, value any) shapeMessage {
	raw, _ := json.Marshal(value)
	var m shapeMessage
	m.Headers.Operation = "insert"
	m.Key = &key
	m.Value = raw
	return m
}

func upToDateMessage() shapeMessage {
	var m shapeMessage
	m.Headers.Control = "up-to-date"
	return m
}

// handleShape serves GET /v1/shape?table=…&offset=…[&handle=…][&where=…][&live=true],
// matching internal/shape.Consumer's client-side expectations. Because this pack includes no logical-replication
// source to diff against, every catch-up request (live unset or offset
// "-1") re-snapshots the requested table in full as a run of inserts; a
// live=true request simply holds the connection open until the request's
// own deadline (its own long-poll timeout) and then answers up-to-date with
// an unchanged cursor, since there is no committed change feed to wait on.
func (s *Server) handleShape(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	orgID := orgIDFrom(r.Context())
	live := r.URL.Query().Get("live") == "true"
	offset := r.URL.Query().Get("offset")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("electric-schema", table)

	if live && offset != "-1" && offset != "" {
		s.waitForDeadline(r.Context())
		w.Header().Set("electric-handle", r.URL.Query().Get("handle"))
		w.Header().Set("electric-offset", offset)
		w.WriteHeader(http.StatusOK)
		_ = writeMessage(w, upToDateMessage())
		return
	}

	rows, err := s.snapshotRows(r.Context(), table, orgID, r.URL.Query().Get("swarm_project_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle := table + "-" + strconv.FormatInt(time.Now().UTC().UnixNano(), 36)
	w.Header().Set("electric-handle", handle)
	w.Header().Set("electric-offset", "0")
	w.WriteHeader(http.StatusOK)

	for key, value := range rows {
		if err := writeMessage(w, insertMessage(key, value)); err != nil {
			return
		}
	}
	_ = writeMessage(w, upToDateMessage())
}

func writeMessage(w http.ResponseWriter, m shapeMessage) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(m); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// waitForDeadline blocks until ctx is done (the HTTP server enforces the
// client's own long-poll timeout on r.Context()).
func (s *Server) waitForDeadline(ctx context.Context) {
	<-ctx.Done()
}

// snapshotRows fetches the current rows for table, keyed by the column the
// consumer's Materializer expects as its key, returning a map so callers only need range-order, not row order.
func (s *Server) snapshotRows(ctx context.Context, table, orgID, swarmProjectID string) (map[string]any, error) {
	out := map[string]any{}
	switch table {
	case "swarm_projects":
		projects, err := s.store.ListSwarmProjects(ctx, orgID)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			out[p.ID] = p
		}
	case "tasks":
		tasks, err := s.store.ListSharedTasks(ctx, swarmProjectID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			out[t.SharedTaskID] = t
		}
	case "labels":
		labels, err := s.store.AllLabels(ctx, orgID)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			out[l.ID] = l
		}
	case "nodes":
		nodes, err := s.store.ListNodes(ctx, orgID)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			out[n.ID] = n
		}
	default:
		return out, nil
	}
	return out, nil
}
