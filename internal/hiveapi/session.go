package hiveapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"swarmhive/internal/hivestore"
	"swarmhive/internal/model"
	"swarmhive/internal/wire"
)

func taskStatus(s string) model.TaskStatus { return model.TaskStatus(s) }

// sessionRegistry tracks the live outbound channel for every connected
// node, keyed by node id, so other hive components could push a TaskAssign
// or TaskCancel to a specific node. Mirrors internal/node's
// single-writer-goroutine FIFO discipline on the server side.
type sessionRegistry struct {
	mu   sync.RWMutex
	outs map[string]chan []byte
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{outs: map[string]chan []byte{}}
}

func (r *sessionRegistry) register(nodeID string) chan []byte {
	ch := make(chan []byte, 64)
	r.mu.Lock()
	r.outs[nodeID] = ch
	r.mu.Unlock()
	return ch
}

func (r *sessionRegistry) unregister(nodeID string) {
	r.mu.Lock()
	if ch, ok := r.outs[nodeID]; ok {
		close(ch)
		delete(r.outs, nodeID)
	}
	r.mu.Unlock()
}

// SendTo pushes an enveloped message to a connected node's outbound queue.
// Returns false if the node is not currently connected.
func (r *sessionRegistry) SendTo(nodeID string, tag wire.Tag, payload any) bool {
	r.mu.RLock()
	ch, ok := r.outs[nodeID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	raw, err := wire.Encode(tag, payload)
	if err != nil {
		return false
	}
	select {
	case ch <- raw:
		return true
	default:
		return false
	}
}

// handleSession upgrades GET /v1/session to a WebSocket and runs the
// node's session loop server-side. Symmetric with internal/node.Peer's client
// loop: one writer goroutine drains the outbound channel FIFO, one reader
// goroutine dispatches inbound envelopes serially.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("session: upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil || env.Type != wire.TagAuth {
		s.sendAuthFailure(conn, "expected Auth frame")
		return
	}
	var auth wire.Auth
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		s.sendAuthFailure(conn, "malformed Auth payload")
		return
	}

	node, err := s.store.ValidateAPIKey(r.Context(), auth.APIKey)
	if err != nil {
		s.sendAuthFailure(conn, "invalid api key")
		return
	}
	if node.MachineID != "" && node.MachineID != auth.MachineID {
		s.sendAuthFailure(conn, "machine_id mismatch")
		return
	}

	result := wire.AuthResult{
		Success: true, NodeID: node.ID, OrganizationID: node.OrgID,
		ProtocolVersion: wire.ProtocolVersion,
	}
	if linked, err := s.store.ListLinkedProjectsForNode(r.Context(), node.OrgID, node.ID); err != nil {
		s.log.Printf("session: node %s: list linked projects: %v", node.ID, err)
	} else {
		result.LinkedProjects = linked
	}
	if labels, err := s.store.ListLabels(r.Context(), node.OrgID, ""); err != nil {
		s.log.Printf("session: node %s: list swarm labels: %v", node.ID, err)
	} else {
		for _, l := range labels {
			result.SwarmLabels = append(result.SwarmLabels, wire.SwarmLabel{
				ID: l.ID, ProjectID: l.ProjectID, Name: l.Name, Icon: l.Icon,
				Color: l.Color, Version: l.Version, IsDeleted: l.DeletedAt != nil,
			})
		}
	}
	raw, err := wire.Encode(wire.TagAuthResult, result)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return
	}
	_ = s.store.SetStatus(r.Context(), node.ID, wire.StatusOnline, 0, 0)
	s.log.Printf("session: node %s authenticated", node.ID)

	out := s.sessions.register(node.ID)
	defer s.sessions.unregister(node.ID)
	defer func() { _ = s.store.MarkOffline(context.Background(), node.ID, "session closed") }()

	done := make(chan struct{})
	go s.writeLoop(conn, out, done)

	conn.SetReadDeadline(time.Time{})
	s.readLoop(r.Context(), conn, node.ID, node.OrgID)
	close(done)
}

func (s *Server) sendAuthFailure(conn *websocket.Conn, reason string) {
	raw, err := wire.Encode(wire.TagAuthResult, wire.AuthResult{
		Success: false, Error: reason, ProtocolVersion: wire.ProtocolVersion,
	})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *Server) writeLoop(conn *websocket.Conn, out chan []byte, done chan struct{}) {
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, nodeID, orgID string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			s.log.Printf("session: node %s: decode: %v", nodeID, err)
			continue
		}
		s.dispatch(ctx, nodeID, orgID, env)
	}
}

func (s *Server) dispatch(ctx context.Context, nodeID, orgID string, env wire.Envelope) {
	switch env.Type {
	case wire.TagHeartbeat:
		var hb wire.Heartbeat
		if json.Unmarshal(env.Data, &hb) == nil {
			if err := s.store.SetStatus(ctx, nodeID, hb.Status, hb.ActiveTasks, hb.AvailableCapacity); err != nil {
				s.log.Printf("session: node %s: set status: %v", nodeID, err)
			}
		}
	case wire.TagTaskSync:
		s.handleTaskSync(ctx, nodeID, orgID, env.Data)
	case wire.TagAttemptSync:
		var msg wire.AttemptSync
		if json.Unmarshal(env.Data, &msg) == nil {
			if err := s.store.ApplyAttemptSync(ctx, nodeID, msg); err != nil {
				s.log.Printf("session: node %s: attempt sync: %v", nodeID, err)
			}
		}
	case wire.TagExecutionSync:
		var msg wire.ExecutionSync
		if json.Unmarshal(env.Data, &msg) == nil {
			if err := s.store.ApplyExecutionSync(ctx, msg); err != nil {
				s.log.Printf("session: node %s: execution sync: %v", nodeID, err)
			}
		}
	case wire.TagLogsBatch:
		var msg wire.LogsBatch
		if json.Unmarshal(env.Data, &msg) == nil {
			if err := s.store.ApplyLogsBatch(ctx, msg); err != nil {
				s.log.Printf("session: node %s: logs batch: %v", nodeID, err)
			}
		}
	case wire.TagProjectsSync:
		var msg wire.ProjectsSync
		if json.Unmarshal(env.Data, &msg) == nil {
			projects := make([]hivestore.NodeProject, 0, len(msg.Projects))
			for _, p := range msg.Projects {
				projects = append(projects, hivestore.NodeProject{
					NodeID: nodeID, LocalProjectID: p.LocalProjectID, Name: p.Name, RepoPath: p.RepoPath,
				})
			}
			if err := s.store.UpsertNodeProjects(ctx, nodeID, projects); err != nil {
				s.log.Printf("session: node %s: projects sync: %v", nodeID, err)
			}
		}
	case wire.TagLinkProject:
		var msg wire.LinkProject
		if json.Unmarshal(env.Data, &msg) == nil {
			link := hivestore.SwarmProjectNode{
				SwarmProjectID: msg.SwarmProjectID, NodeID: nodeID,
				LocalProjectID: msg.LocalProjectID, GitRepoPath: msg.GitRepoPath,
				OSType: msg.OSType,
			}
			if err := s.store.LinkNode(ctx, link); err != nil {
				s.log.Printf("session: node %s: link project: %v", nodeID, err)
			}
		}
	case wire.TagUnlinkProject:
		var msg wire.UnlinkProject
		if json.Unmarshal(env.Data, &msg) == nil {
			if err := s.store.UnlinkNode(ctx, msg.SwarmProjectID, nodeID); err != nil {
				s.log.Printf("session: node %s: unlink project: %v", nodeID, err)
			}
		}
	case wire.TagDeregister:
		_ = s.store.MarkOffline(ctx, nodeID, "deregistered")
	case wire.TagClose:
		// client is closing cleanly; readLoop's next ReadMessage will error out.
	default:
		s.log.Printf("session: node %s: unhandled tag %s (debug)", nodeID, env.Type)
	}
}

func (s *Server) handleTaskSync(ctx context.Context, nodeID, orgID string, data json.RawMessage) {
	var msg wire.TaskSync
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	t, err := s.store.UpsertTaskSync(ctx, orgID, msg.RemoteProjectID, nodeID, msg.LocalTaskID,
		msg.SharedTaskID, msg.Title, msg.Description, taskStatus(msg.Status), msg.Version,
		msg.IsUpdate, msg.CreatedAt, msg.UpdatedAt)
	resp := wire.TaskSyncResponse{LocalTaskID: msg.LocalTaskID}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	} else {
		resp.Success = true
		resp.SharedTaskID = t.SharedTaskID
	}
	s.sessions.SendTo(nodeID, wire.TagTaskSyncResponse, resp)
}
