// Package approval implements the tool-call approval/question state
// machine: it correlates an agent's "I want to run tool X" event, already
// recorded in the execution's msgstore.Log by internal/normalizer, with a
// human (or hook) decision, and writes the outcome back as a patch on the
// same log. Per approval id the transitions are linearizable: create, then
// exactly one of respond or deadline expiry.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"swarmhive/internal/apperr"
	"swarmhive/internal/model"
	"swarmhive/internal/msgstore"
	"swarmhive/internal/normalizer"
)

// lookupBackoff is the fixed retry schedule for locating the tool-use
// entry a Create call targets, covering the race
// where the log normalizer has not yet produced it.
var lookupBackoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// TaskStatusStore is the subset of internal/store.Store the service needs
// to drive the in-progress<->in-review toggle.
type TaskStatusStore interface {
	TaskIDForExecution(ctx context.Context, executionID string) (string, error)
	GetTask(ctx context.Context, taskID string) (model.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error
}

// Request is the input to Create.
type Request struct {
	ToolCallID         string
	ExecutionProcessID string
	ToolName           string
	Questions          []string
	TimeoutAt          time.Time
}

// ResponseStatus enumerates the terminal outcomes Respond accepts.
type ResponseStatus string

const (
	RespApproved ResponseStatus = "approved"
	RespDenied   ResponseStatus = "denied"
)

// Response is the input to Respond.
type Response struct {
	Status       ResponseStatus
	Answers      map[string]string // non-nil marks the approval as "answered" rather than a bare approve
	DeniedReason string
}

// PendingApproval is the handle Create returns: enough to correlate a later
// Respond call and to report back to an HTTP caller.
type PendingApproval struct {
	ID                 string
	ToolCallID         string
	ExecutionProcessID string
	ToolName           string
	Questions          []string
	EntryIndex         int
	CreatedAt          time.Time
	TimeoutAt          time.Time
}

type pendingEntry struct {
	approval PendingApproval
	waiters  []chan model.ToolStatus // each buffered 1; all receive the terminal status
	done     chan struct{}           // closed exactly once, by whichever of Respond/timeout wins the race
}

func (pe *pendingEntry) deliver(status model.ToolStatus) {
	for _, w := range pe.waiters {
		w <- status
	}
}

// Service implements the approval state machine. The zero value is not
// usable; use New.
type Service struct {
	store TaskStatusStore

	mu      sync.Mutex
	logs    map[string]*msgstore.Log // execution_process_id -> its msgstore.Log
	pending map[string]*pendingEntry
	done    map[string]model.ToolStatus // completed[id], for idempotency/duplicate-respond detection
}

// New returns an approval Service backed by store for the task-status toggle.
func New(store TaskStatusStore) *Service {
	return &Service{
		store:   store,
		logs:    make(map[string]*msgstore.Log),
		pending: make(map[string]*pendingEntry),
		done:    make(map[string]model.ToolStatus),
	}
}

// RegisterExecution makes an execution's message store visible to Create.
func (s *Service) RegisterExecution(executionProcessID string, log *msgstore.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[executionProcessID] = log
}

// UnregisterExecution drops the execution once its process exits and its
// log has been drained to the local store.
func (s *Service) UnregisterExecution(executionProcessID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, executionProcessID)
}

type entriesDoc struct {
	Entries []model.CanonicalEntry `json:"entries"`
}

// Create correlates req with the tool-use entry the normalizer already
// wrote, marks it pending, and returns a channel that resolves with the
// terminal ToolStatus once Respond is called or the deadline passes.
func (s *Service) Create(ctx context.Context, req Request) (*PendingApproval, <-chan model.ToolStatus, error) {
	s.mu.Lock()
	log, ok := s.logs[req.ExecutionProcessID]
	if existing, dup := s.pending[req.ToolCallID]; dup {
		// A concurrent Create for the same tool call shares the pending
		// approval instead of producing a second one.
		ch := make(chan model.ToolStatus, 1)
		existing.waiters = append(existing.waiters, ch)
		approval := existing.approval
		s.mu.Unlock()
		return &approval, ch, nil
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("execution %s: %w", req.ExecutionProcessID, apperr.ErrNotFound)
	}

	entryIndex, found, err := findOpenToolUse(log, req.ToolCallID, lookupBackoff)
	if err != nil {
		return nil, nil, err
	}
	isQuestion := len(req.Questions) > 0
	now := time.Now().UTC()

	if !found {
		if !isQuestion {
			return nil, nil, fmt.Errorf("approval: no tool-use entry for tool_call_id %s: %w", req.ToolCallID, apperr.ErrNotFound)
		}
		// Synthesize a new AskUserQuestion entry at the next index.
		doc, err := materialize(log)
		if err != nil {
			return nil, nil, err
		}
		entryIndex = len(doc.Entries)
		synthetic := model.CanonicalEntry{
			Index:   entryIndex,
			Type:    model.EntryToolUse,
			Content: "AskUserQuestion called",
			Action:  &model.ActionType{Kind: model.ActionTool, ToolName: "AskUserQuestion"},
			Status: &model.ToolStatus{
				Kind:        model.ToolPendingQuestion,
				QuestionID:  req.ToolCallID,
				Questions:   req.Questions,
				RequestedAt: now,
				TimeoutAt:   req.TimeoutAt,
			},
			Metadata: &model.EntryMetadata{ToolCallID: req.ToolCallID},
		}
		log.PushPatch(normalizer.AddEntry(synthetic))
	} else {
		status := model.ToolStatus{
			Kind:        model.ToolPendingApproval,
			ApprovalID:  req.ToolCallID,
			RequestedAt: now,
			TimeoutAt:   req.TimeoutAt,
		}
		if isQuestion {
			status.Kind = model.ToolPendingQuestion
			status.QuestionID = req.ToolCallID
			status.Questions = req.Questions
		}
		entry := model.CanonicalEntry{
			Index:    entryIndex,
			Type:     model.EntryToolUse,
			Content:  req.ToolName + " called",
			Action:   &model.ActionType{Kind: model.ActionTool, ToolName: req.ToolName},
			Status:   &status,
			Metadata: &model.EntryMetadata{ToolCallID: req.ToolCallID},
		}
		log.PushPatch(normalizer.ReplaceEntry(entryIndex, entry))
	}

	approvalID := req.ToolCallID
	pe := &pendingEntry{
		approval: PendingApproval{
			ID:                 approvalID,
			ToolCallID:         req.ToolCallID,
			ExecutionProcessID: req.ExecutionProcessID,
			ToolName:           req.ToolName,
			Questions:          req.Questions,
			EntryIndex:         entryIndex,
			CreatedAt:          now,
			TimeoutAt:          req.TimeoutAt,
		},
		waiters: []chan model.ToolStatus{make(chan model.ToolStatus, 1)},
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if existing, dup := s.pending[approvalID]; dup {
		// Lost the race to a concurrent Create; share its entry.
		ch := make(chan model.ToolStatus, 1)
		existing.waiters = append(existing.waiters, ch)
		approval := existing.approval
		s.mu.Unlock()
		return &approval, ch, nil
	}
	s.pending[approvalID] = pe
	s.mu.Unlock()

	if err := s.promoteToReview(ctx, req.ExecutionProcessID); err != nil {
		// Non-fatal: the approval itself still stands even if the task
		// status toggle couldn't be applied (e.g. task already gone).
		_ = err
	}

	go s.watchDeadline(context.Background(), log, approvalID, pe)

	approval := pe.approval
	return &approval, pe.waiters[0], nil
}

// Respond delivers a human/hook decision for a pending approval.
func (s *Service) Respond(ctx context.Context, id string, resp Response) (model.ToolStatus, error) {
	s.mu.Lock()
	if st, ok := s.done[id]; ok {
		s.mu.Unlock()
		return st, fmt.Errorf("approval %s: %w", id, apperr.ErrAlreadyDone)
	}
	pe, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return model.ToolStatus{}, fmt.Errorf("approval %s: %w", id, apperr.ErrNotFound)
	}
	delete(s.pending, id)
	s.mu.Unlock()

	status := terminalStatus(resp)

	s.mu.Lock()
	s.done[id] = status
	s.mu.Unlock()

	close(pe.done) // tell the deadline watcher it lost the race
	pe.deliver(status)

	s.mu.Lock()
	log := s.logs[pe.approval.ExecutionProcessID]
	s.mu.Unlock()
	if log != nil {
		entry := model.CanonicalEntry{
			Index:    pe.approval.EntryIndex,
			Type:     model.EntryToolUse,
			Content:  pe.approval.ToolName + " called",
			Action:   &model.ActionType{Kind: model.ActionTool, ToolName: pe.approval.ToolName},
			Status:   &status,
			Metadata: &model.EntryMetadata{ToolCallID: pe.approval.ToolCallID},
		}
		log.PushPatch(normalizer.ReplaceEntry(pe.approval.EntryIndex, entry))
	}

	if resp.Status == RespApproved || resp.Status == RespDenied {
		_ = s.demoteToInProgress(ctx, pe.approval.ExecutionProcessID)
	}
	return status, nil
}

func terminalStatus(resp Response) model.ToolStatus {
	switch resp.Status {
	case RespApproved:
		if resp.Answers != nil {
			return model.ToolStatus{Kind: model.ToolAnswered, Answers: resp.Answers}
		}
		return model.ToolStatus{Kind: model.ToolCreated}
	case RespDenied:
		return model.ToolStatus{Kind: model.ToolDenied, DeniedSource: model.DeniedByUser, DeniedReason: resp.DeniedReason}
	default:
		return model.ToolStatus{Kind: model.ToolDenied, DeniedSource: model.DeniedBySystem, DeniedReason: "unknown response status"}
	}
}

// watchDeadline races the waiter against req.TimeoutAt: if the deadline wins, it treats the request as timed out,
// removes it from pending, records the completed status, and updates the
// entry to TimedOut with the elapsed waited_seconds.
func (s *Service) watchDeadline(ctx context.Context, log *msgstore.Log, id string, pe *pendingEntry) {
	timer := time.NewTimer(time.Until(pe.approval.TimeoutAt))
	defer timer.Stop()
	select {
	case <-pe.done:
		return // Respond already won the race
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return // Respond beat the timer between the timer firing and this lock
	}
	delete(s.pending, id)
	waited := int64(time.Since(pe.approval.CreatedAt) / time.Second)
	status := model.ToolStatus{Kind: model.ToolTimedOut, WaitedSeconds: &waited}
	s.done[id] = status
	s.mu.Unlock()

	close(pe.done)
	pe.deliver(status)

	entry := model.CanonicalEntry{
		Index:    pe.approval.EntryIndex,
		Type:     model.EntryToolUse,
		Content:  pe.approval.ToolName + " called",
		Action:   &model.ActionType{Kind: model.ActionTool, ToolName: pe.approval.ToolName},
		Status:   &status,
		Metadata: &model.EntryMetadata{ToolCallID: pe.approval.ToolCallID},
	}
	log.PushPatch(normalizer.ReplaceEntry(pe.approval.EntryIndex, entry))
}

func (s *Service) promoteToReview(ctx context.Context, executionProcessID string) error {
	taskID, err := s.store.TaskIDForExecution(ctx, executionProcessID)
	if err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskInProgress {
		return s.store.UpdateTaskStatus(ctx, taskID, model.TaskInReview)
	}
	return nil
}

func (s *Service) demoteToInProgress(ctx context.Context, executionProcessID string) error {
	taskID, err := s.store.TaskIDForExecution(ctx, executionProcessID)
	if err != nil {
		return err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskInReview {
		return s.store.UpdateTaskStatus(ctx, taskID, model.TaskInProgress)
	}
	return nil
}

// materialize folds log's patches into the virtual entries document.
func materialize(log *msgstore.Log) (entriesDoc, error) {
	raw, err := log.MaterializeEntries()
	if err != nil {
		return entriesDoc{}, fmt.Errorf("approval: materialize entries: %w", err)
	}
	var doc entriesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entriesDoc{}, fmt.Errorf("approval: decode entries: %w", err)
	}
	return doc, nil
}

// findOpenToolUse searches history newest->oldest for a tool-use entry
// whose metadata.tool_call_id equals toolCallID and whose status is
// Created, retrying on the given backoff schedule to cover the race with
// the live normalizer.
func findOpenToolUse(log *msgstore.Log, toolCallID string, backoff []time.Duration) (int, bool, error) {
	for attempt := 0;; attempt++ {
		doc, err := materialize(log)
		if err != nil {
			return 0, false, err
		}
		for i := len(doc.Entries) - 1; i >= 0; i-- {
			e := doc.Entries[i]
			if e.Type != model.EntryToolUse || e.Metadata == nil || e.Metadata.ToolCallID != toolCallID {
				continue
			}
			if e.Status != nil && e.Status.Kind == model.ToolCreated {
				return i, true, nil
			}
		}
		if attempt >= len(backoff) {
			return 0, false, nil
		}
		time.Sleep(backoff[attempt])
	}
}
