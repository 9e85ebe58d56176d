package claude

import "encoding/json"

// Claude Code's can-use-tool control channel expects a PermissionResult
// reply for every gated tool call. AskUserQuestion rides the same channel:
// the questions are carried in the tool input, and the chosen answers are
// returned by rewriting that input in an allow response.

// permissionResult is the reply shape for the can-use-tool control channel.
type permissionResult struct {
	Behavior     string         `json:"behavior"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// AllowResponse builds the {behavior:"allow"} reply. For AskUserQuestion,
// answers are merged into the original tool input under "answers"; for a
// plain approval, input passes through unchanged.
func AllowResponse(input map[string]any, answers map[string]string) json.RawMessage {
	updated := make(map[string]any, len(input)+1)
	for k, v := range input {
		updated[k] = v
	}
	if len(answers) > 0 {
		updated["answers"] = answers
	}
	b, _ := json.Marshal(permissionResult{Behavior: "allow", UpdatedInput: updated})
	return b
}

// DenyResponse builds the {behavior:"deny"} reply carrying the denial (or
// error) message.
func DenyResponse(message string) json.RawMessage {
	b, _ := json.Marshal(permissionResult{Behavior: "deny", Message: message})
	return b
}

// QuestionsFromInput extracts the question texts from an AskUserQuestion
// tool input. Both the structured form ({"questions":[{"question":...}]})
// and a bare string array are accepted; anything else yields nil.
func QuestionsFromInput(input json.RawMessage) []string {
	var structured struct {
		Questions []struct {
			Question string `json:"question"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(input, &structured); err == nil && len(structured.Questions) > 0 {
		out := make([]string, 0, len(structured.Questions))
		for _, q := range structured.Questions {
			if q.Question != "" {
				out = append(out, q.Question)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	var plain struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(input, &plain); err == nil && len(plain.Questions) > 0 {
		return plain.Questions
	}
	return nil
}
