package normalizer

import (
	"encoding/json"
	"fmt"

	"swarmhive/internal/model"
)

// rawOp is one operation of an RFC 6902 JSON Patch document, the wire shape
// msgstore.Log.PushPatch expects.
type rawOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func encodePatch(ops ...rawOp) json.RawMessage {
	b, err := json.Marshal(ops)
	if err != nil {
		// ops are built entirely from values we control; a marshal failure
		// here means a programming error, not bad input.
		panic(fmt.Sprintf("normalizer: encode patch: %v", err))
	}
	return b
}

// AddEntry appends entry at the end of the conversation's entries array.
func AddEntry(entry model.CanonicalEntry) json.RawMessage {
	return encodePatch(rawOp{Op: "add", Path: "/entries/-", Value: entry})
}

// ReplaceEntry overwrites the entry at position idx, used for streaming
// coalescing where later chunks extend an already-emitted entry in place.
func ReplaceEntry(idx int, entry model.CanonicalEntry) json.RawMessage {
	return encodePatch(rawOp{Op: "replace", Path: fmt.Sprintf("/entries/%d", idx), Value: entry})
}
