package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/approval"
	"swarmhive/internal/model"
	"swarmhive/internal/msgstore"
	"swarmhive/internal/node"
	"swarmhive/internal/store"
	"swarmhive/internal/wire"
)

// taskHandler implements node.Handler against the local store. Running a
// coding-agent process for an assigned task is wired in separately;
// accepting an
// assignment still opens the execution process + message store pair the
// normalizer and the approval service operate against, so that machinery
// is live the moment a real executor (wired in separately) starts writing
// to the log, rather than only existing in tests.
type taskHandler struct {
	store     *store.Store
	approvals *approval.Service
	log       *log.Logger
	peer      *node.Peer // set once via setPeer, after the peer is constructed
}

func newTaskHandler(s *store.Store, approvals *approval.Service, logger *log.Logger) *taskHandler {
	return &taskHandler{store: s, approvals: approvals, log: logger}
}

// setPeer breaks the construction cycle (the peer needs a Handler, the
// handler needs to know its own node id to recognize self-removal).
func (h *taskHandler) setPeer(p *node.Peer) { h.peer = p }

func (h *taskHandler) OnTaskAssign(msg wire.TaskAssign) error {
	ctx := context.Background()
	if _, err := h.store.FindTaskBySharedID(ctx, msg.TaskID); err == nil {
		h.log.Printf("task assign %s: already accepted, ignoring retry", msg.TaskID)
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	task, err := h.store.CreateTask(ctx, model.Task{
		ProjectID:    msg.LocalProjectID,
		Title:        msg.Task.Title,
		Description:  msg.Task.Description,
		Status:       model.TaskInProgress,
		SharedTaskID: msg.TaskID,
	})
	if err != nil {
		return err
	}
	attempt, err := h.store.CreateAttempt(ctx, model.TaskAttempt{
		TaskID:           task.ID,
		Executor:         msg.Task.Executor,
		ExecutorVariant:  msg.Task.ExecutorVariant,
		TargetBranch:     msg.Task.BaseBranch,
		HiveAssignmentID: msg.AssignmentID,
	})
	if err != nil {
		return err
	}

	action, err := json.Marshal(map[string]string{"executor": msg.Task.Executor, "variant": msg.Task.ExecutorVariant})
	if err != nil {
		return err
	}
	exec, err := h.store.CreateExecution(ctx, model.ExecutionProcess{
		TaskAttemptID:  attempt.ID,
		RunReason:      model.RunCodingAgent,
		ExecutorAction: string(action),
	})
	if err != nil {
		return err
	}
	h.approvals.RegisterExecution(exec.ID, msgstore.New(0))

	h.log.Printf("task assign %s: accepted as local task %s, execution %s", msg.TaskID, task.ID, exec.ID)
	return nil
}

func (h *taskHandler) OnTaskCancel(msg wire.TaskCancel) error {
	ctx := context.Background()
	attempt, err := h.store.FindAttemptByAssignment(ctx, msg.AssignmentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil // nothing local to cancel
		}
		return err
	}

	execs, err := h.store.ListExecutionsByAttempt(ctx, attempt.ID)
	if err != nil {
		return err
	}
	for _, exec := range execs {
		if exec.Status != model.ExecRunning {
			continue
		}
		h.approvals.UnregisterExecution(exec.ID)
		if err := h.store.CompleteExecution(ctx, exec.ID, model.ExecKilled, nil, ""); err != nil {
			return err
		}
	}

	return h.store.UpdateTaskStatus(ctx, attempt.TaskID, model.TaskCancelled)
}

// OnProjectSync reflects a swarm project's visibility-only entry into the
// node's local projects table: msg.IsNew creates or updates a remote
// project row, its absence removes it.
func (h *taskHandler) OnProjectSync(msg wire.ProjectSync) error {
	ctx := context.Background()
	existing, err := h.findRemoteProject(ctx, msg.SwarmProjectID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	if !msg.IsNew {
		if err == nil {
			return h.store.DeleteProject(ctx, existing.ID)
		}
		return nil
	}
	if err == nil {
		existing.Name = msg.Name
		_, err := h.store.UpdateProject(ctx, existing)
		return err
	}
	_, err = h.store.CreateProject(ctx, model.Project{
		Name:            msg.Name,
		IsRemote:        true,
		RemoteProjectID: msg.SwarmProjectID,
	})
	return err
}

func (h *taskHandler) findRemoteProject(ctx context.Context, swarmProjectID string) (model.Project, error) {
	projects, err := h.store.ListProjects(ctx, false)
	if err != nil {
		return model.Project{}, err
	}
	for _, p := range projects {
		if p.IsRemote && p.RemoteProjectID == swarmProjectID {
			return p, nil
		}
	}
	return model.Project{}, apperr.ErrNotFound
}

func (h *taskHandler) OnLabelSync(msg wire.LabelSync) error {
	l := model.Label{
		ID:           msg.SharedLabelID,
		ProjectID:    msg.ProjectID,
		OriginNodeID: msg.OriginNodeID,
		Name:         msg.Name,
		Icon:         msg.Icon,
		Color:        msg.Color,
		Version:      msg.Version,
	}
	if msg.IsDeleted {
		now := time.Now().UTC()
		l.DeletedAt = &now
	}
	return h.store.UpsertFromNode(context.Background(), l)
}

func (h *taskHandler) OnTaskSyncResponse(msg wire.TaskSyncResponse) error {
	if !msg.Success {
		h.log.Printf("task sync %s rejected: %s", msg.LocalTaskID, msg.Error)
		return nil
	}
	return h.store.SetSharedTaskID(context.Background(), msg.LocalTaskID, msg.SharedTaskID)
}

func (h *taskHandler) OnNodeRemoved(nodeID string) (selfRemoved bool) {
	h.log.Printf("node %s removed from hive", nodeID)
	return h.peer != nil && nodeID == h.peer.NodeID()
}

var _ node.Handler = (*taskHandler)(nil)
