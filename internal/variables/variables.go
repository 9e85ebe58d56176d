// Package variables implements the task-variable resolver used by the
// description expander: given a task id, it walks the task's chain up to
// its root parent (internal/store's ChildTaskChain), resolves user-defined
// variables with "closest definition wins," and overrides any name also
// covered by the fixed set of runtime system variables.
package variables

import (
	"context"
	"fmt"
	"strings"

	"swarmhive/internal/model"
)

// Store is the subset of internal/store.Store this resolver depends on.
type Store interface {
	ChildTaskChain(ctx context.Context, taskID string) ([]model.Task, error)
	TaskVariables(ctx context.Context, taskID string) ([]model.TaskVariable, error)
	GetProject(ctx context.Context, id string) (model.Project, error)
	TaskLabels(ctx context.Context, taskID string) ([]model.Label, error)
}

// Resolver resolves task-description variables against a Store.
type Resolver struct {
	store Store
}

// New returns a Resolver backed by store.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the full variable set visible to taskID: user-defined
// variables from the task's ancestor chain (closest definition wins per
// name), then overridden by the runtime system variables.
func (r *Resolver) Resolve(ctx context.Context, taskID string) (map[string]string, error) {
	chain, err := r.store.ChildTaskChain(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("resolve variables: %w", err)
	}
	out := map[string]string{}
	// Walk closest-to-farthest; the first writer per name wins, so later
	// (more distant ancestor) definitions never overwrite a closer one.
	for _, t := range chain {
		vars, err := r.store.TaskVariables(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve variables: %w", err)
		}
		for _, v := range vars {
			if _, exists := out[v.Name]; !exists {
				out[v.Name] = v.Value
			}
		}
	}

	if len(chain) == 0 {
		return out, nil
	}
	self := chain[0]
	var labelNames []string
	if labels, err := r.store.TaskLabels(ctx, self.ID); err == nil {
		for _, l := range labels {
			labelNames = append(labelNames, l.Name)
		}
	}
	sys := systemVariables(self, labelNames)
	if self.ProjectID != "" {
		if proj, err := r.store.GetProject(ctx, self.ProjectID); err == nil {
			sys[string(model.VarProjectID)] = proj.ID
			sys[string(model.VarProjectTitle)] = proj.Name
		}
	}
	for name, val := range sys {
		out[name] = val // system variables override user-defined ones of the same name
	}
	return out, nil
}

func systemVariables(t model.Task, labelNames []string) map[string]string {
	isSubtask := "false"
	if t.ParentTaskID != "" {
		isSubtask = "true"
	}
	return map[string]string{
		string(model.VarTaskID):          t.ID,
		string(model.VarParentTaskID):    t.ParentTaskID,
		string(model.VarTaskTitle):       t.Title,
		string(model.VarTaskDescription): t.Description,
		string(model.VarTaskLabel):       strings.Join(labelNames, ","),
		string(model.VarProjectID):       t.ProjectID,
		string(model.VarIsSubtask):       isSubtask,
	}
}
