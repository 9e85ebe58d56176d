package claude

import (
	"encoding/json"
	"testing"

	"swarmhive/internal/model"
	"swarmhive/internal/normalizer"
)

func decodeEntry(t *testing.T, patch json.RawMessage) (op string, entry model.CanonicalEntry) {
	t.Helper()
	var ops []struct {
		Op    string          `json:"op"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(patch, &ops); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected single op, got %d", len(ops))
	}
	if err := json.Unmarshal(ops[0].Value, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return ops[0].Op, entry
}

func TestExtractSessionIDFromSystemInit(t *testing.T) {
	e := New()
	id, ok := e.ExtractSessionID(`{"type":"system","subtype":"init","session_id":"sess-42"}`)
	if !ok || id != "sess-42" {
		t.Fatalf("expected session id extracted, got %q ok=%v", id, ok)
	}
	if _, ok := e.ExtractSessionID(`{"type":"assistant","message":{"role":"assistant","content":[]}}`); ok {
		t.Fatal("expected no session id on an assistant event")
	}
}

func TestAssistantTextAndThinkingBlocks(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	line := `{"type":"assistant","message":{"role":"assistant","content":[
		{"type":"thinking","thinking":"let me check"},
		{"type":"text","text":"done"}
	]}}`
	e.ProcessLine(line, idx, func(p json.RawMessage) { patches = append(patches, p) })

	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Type != model.EntryThinking || entry.Content != "let me check" {
		t.Fatalf("unexpected thinking entry: op=%s entry=%+v", op, entry)
	}
	op, entry = decodeEntry(t, patches[1])
	if op != "add" || entry.Type != model.EntryAssistantMessage || entry.Content != "done" {
		t.Fatalf("unexpected assistant entry: op=%s entry=%+v", op, entry)
	}
}

func TestToolUseThenToolResultCollapsesIntoOneEntry(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	emit := func(p json.RawMessage) { patches = append(patches, p) }

	toolUse := `{"type":"assistant","message":{"role":"assistant","content":[
		{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}
	]}}`
	e.ProcessLine(toolUse, idx, emit)

	toolResult := `{"type":"user","message":{"role":"user","content":[
		{"type":"tool_result","tool_use_id":"tu_1","content":"file1\nfile2"}
	]}}`
	e.ProcessLine(toolResult, idx, emit)

	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Status == nil || entry.Status.Kind != model.ToolCreated {
		t.Fatalf("unexpected tool_use entry: op=%s entry=%+v", op, entry)
	}
	if entry.Action == nil || entry.Action.Kind != model.ActionCommandRun || entry.Action.Command != "ls" {
		t.Fatalf("expected command_run action, got %+v", entry.Action)
	}
	if entry.Action.Result != nil {
		t.Fatalf("expected no result while the command is in flight, got %+v", entry.Action.Result)
	}
	op, entry = decodeEntry(t, patches[1])
	if op != "replace" || entry.Status == nil || entry.Status.Kind != model.ToolSuccess {
		t.Fatalf("unexpected tool_result entry: op=%s entry=%+v", op, entry)
	}
	if entry.Action == nil || entry.Action.Result == nil || entry.Action.Result.ExitStatus == nil || !entry.Action.Result.ExitStatus.Success {
		t.Fatalf("expected successful exit status on completion: %+v", entry.Action)
	}
	if entry.Action.Result.Output != "file1\nfile2" {
		t.Fatalf("expected command output preserved across replace: %+v", entry.Action)
	}
}

func TestMapActionVariants(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"Read", map[string]any{"file_path": "/a.go"}, model.ActionFileRead},
		{"Write", map[string]any{"file_path": "/a.go", "content": "x"}, model.ActionFileEdit},
		{"Edit", map[string]any{"file_path": "/a.go", "old_string": "a", "new_string": "b"}, model.ActionFileEdit},
		{"Grep", map[string]any{"pattern": "TODO"}, model.ActionSearch},
		{"WebFetch", map[string]any{"url": "https://x"}, model.ActionWebFetch},
		{"Task", map[string]any{"description": "subtask"}, model.ActionTaskCreate},
		{"ExitPlanMode", map[string]any{"plan": "do it"}, model.ActionPlanPresentation},
		{"TodoWrite", map[string]any{"todos": []any{map[string]any{"content": "a", "status": "pending"}}}, model.ActionTodoManagement},
		{"SomethingElse", map[string]any{"k": "v"}, model.ActionTool},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := mapAction(c.name, c.args)
			if got.Kind != c.want {
				t.Fatalf("expected kind %q, got %q", c.want, got.Kind)
			}
		})
	}
	edit := mapAction("Edit", map[string]any{"file_path": "/a.go", "old_string": "a", "new_string": "b"})
	if edit.Changes == nil || edit.Changes.UnifiedDiff != "-a\n+b\n" {
		t.Fatalf("unexpected edit diff: %+v", edit.Changes)
	}
}

func TestPermissionResponses(t *testing.T) {
	allow := AllowResponse(map[string]any{"questions": []string{"go?"}}, map[string]string{"go?": "yes"})
	var got map[string]any
	if err := json.Unmarshal(allow, &got); err != nil {
		t.Fatalf("decode allow: %v", err)
	}
	if got["behavior"] != "allow" {
		t.Fatalf("expected allow behavior, got %v", got["behavior"])
	}
	updated, _ := got["updatedInput"].(map[string]any)
	if updated == nil || updated["answers"] == nil {
		t.Fatalf("expected answers merged into updatedInput, got %v", got)
	}

	deny := DenyResponse("not now")
	if err := json.Unmarshal(deny, &got); err != nil {
		t.Fatalf("decode deny: %v", err)
	}
	if got["behavior"] != "deny" || got["message"] != "not now" {
		t.Fatalf("unexpected deny response: %v", got)
	}
}

func TestQuestionsFromInput(t *testing.T) {
	qs := QuestionsFromInput(json.RawMessage(`{"questions":[{"question":"proceed?"},{"question":"really?"}]}`))
	if len(qs) != 2 || qs[0] != "proceed?" {
		t.Fatalf("unexpected structured questions: %v", qs)
	}
	qs = QuestionsFromInput(json.RawMessage(`{"questions":["a","b"]}`))
	if len(qs) != 2 || qs[1] != "b" {
		t.Fatalf("unexpected plain questions: %v", qs)
	}
	if qs = QuestionsFromInput(json.RawMessage(`{"other":true}`)); qs != nil {
		t.Fatalf("expected nil for unrelated input, got %v", qs)
	}
}

func TestResultEventProducesSystemMessage(t *testing.T) {
	e := New()
	idx := normalizer.NewIndexProvider(0)
	var patches []json.RawMessage
	e.ProcessLine(`{"type":"result","session_id":"sess-1","result":"all done"}`, idx, func(p json.RawMessage) { patches = append(patches, p) })
	if len(patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(patches))
	}
	op, entry := decodeEntry(t, patches[0])
	if op != "add" || entry.Type != model.EntrySystemMessage || entry.Content != "all done" {
		t.Fatalf("unexpected result entry: op=%s entry=%+v", op, entry)
	}
}
