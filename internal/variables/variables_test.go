package variables

import (
	"context"
	"testing"

	"swarmhive/internal/model"
)

type fakeStore struct {
	tasks     map[string]model.Task
	userVars  map[string][]model.TaskVariable
	projects  map[string]model.Project
	labels    map[string][]model.Label
}

func (f *fakeStore) ChildTaskChain(ctx context.Context, taskID string) ([]model.Task, error) {
	var chain []model.Task
	cur := taskID
	for cur != "" {
		t, ok := f.tasks[cur]
		if !ok {
			break
		}
		chain = append(chain, t)
		cur = t.ParentTaskID
	}
	return chain, nil
}

func (f *fakeStore) TaskVariables(ctx context.Context, taskID string) ([]model.TaskVariable, error) {
	return f.userVars[taskID], nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return model.Project{}, context.Canceled
	}
	return p, nil
}

func (f *fakeStore) TaskLabels(ctx context.Context, taskID string) ([]model.Label, error) {
	return f.labels[taskID], nil
}

func TestResolveClosestDefinitionWins(t *testing.T) {
	fs := &fakeStore{
		tasks: map[string]model.Task{
			"root":  {ID: "root", ProjectID: "p1", Title: "root task"},
			"child": {ID: "child", ProjectID: "p1", ParentTaskID: "root", Title: "child task", Description: "desc"},
		},
		userVars: map[string][]model.TaskVariable{
			"root":  {{TaskID: "root", Name: "REGION", Value: "us-east"}, {TaskID: "root", Name: "ENV", Value: "prod"}},
			"child": {{TaskID: "child", Name: "ENV", Value: "staging"}},
		},
		projects: map[string]model.Project{"p1": {ID: "p1", Name: "Proj"}},
	}
	r := New(fs)
	got, err := r.Resolve(context.Background(), "child")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got["ENV"] != "staging" {
		t.Fatalf("expected closest definition ENV=staging, got %q", got["ENV"])
	}
	if got["REGION"] != "us-east" {
		t.Fatalf("expected inherited REGION=us-east, got %q", got["REGION"])
	}
	if got[string(model.VarTaskID)] != "child" {
		t.Fatalf("expected system TASK_ID=child, got %q", got[string(model.VarTaskID)])
	}
	if got[string(model.VarIsSubtask)] != "true" {
		t.Fatalf("expected IS_SUBTASK=true, got %q", got[string(model.VarIsSubtask)])
	}
}

func TestResolveSystemVariableOverridesUserDefined(t *testing.T) {
	fs := &fakeStore{
		tasks: map[string]model.Task{
			"t1": {ID: "t1", ProjectID: "p1", Title: "a title"},
		},
		userVars: map[string][]model.TaskVariable{
			"t1": {{TaskID: "t1", Name: string(model.VarTaskTitle), Value: "user supplied, ignored"}},
		},
		projects: map[string]model.Project{"p1": {ID: "p1", Name: "Proj"}},
	}
	r := New(fs)
	got, err := r.Resolve(context.Background(), "t1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got[string(model.VarTaskTitle)] != "a title" {
		t.Fatalf("expected system TASK_TITLE to override user-defined value, got %q", got[string(model.VarTaskTitle)])
	}
}
