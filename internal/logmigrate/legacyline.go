package logmigrate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// legacyLine is one parsed line of a legacy execution_process_logs blob.
// The legacy writer serialized an externally tagged enum: non-unit
// variants appear as a single-key object ({"Stdout":"..."},
// {"Stderr":"..."}, {"JsonPatch":[...]}, {"SessionId":"..."},
// {"RefreshRequired":{"reason":"..."}}); the unit variant Finished serializes
// as the bare JSON string "Finished".
type legacyLine struct {
	kind  string
	text  string // Stdout/Stderr content
	patch json.RawMessage
}

// parseLegacyLine parses one JSONL line. ok is false for a blank line or a
// variant migration doesn't act on (SessionId, Finished, RefreshRequired:
// only Stdout/Stderr/JsonPatch feed the replay store; a session id is
// re-derived by the normalizer from stdout, and Finished/RefreshRequired
// carry no historical content).
func parseLegacyLine(raw string) (legacyLine, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return legacyLine{}, false, nil
	}

	var bareVariant string
	if err := json.Unmarshal([]byte(raw), &bareVariant); err == nil {
		return legacyLine{kind: bareVariant}, false, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return legacyLine{}, false, fmt.Errorf("parse legacy log line: %w", err)
	}
	if len(obj) != 1 {
		return legacyLine{}, false, fmt.Errorf("parse legacy log line: expected single-key variant object")
	}
	for key, value := range obj {
		switch key {
		case "Stdout":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return legacyLine{}, false, fmt.Errorf("parse legacy Stdout line: %w", err)
			}
			return legacyLine{kind: key, text: s}, true, nil
		case "Stderr":
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return legacyLine{}, false, fmt.Errorf("parse legacy Stderr line: %w", err)
			}
			return legacyLine{kind: key, text: s}, true, nil
		case "JsonPatch":
			return legacyLine{kind: key, patch: value}, true, nil
		default:
			// SessionId, RefreshRequired: recognized but not replayed.
			return legacyLine{kind: key}, false, nil
		}
	}
	return legacyLine{}, false, nil
}
