package normalizer

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"swarmhive/internal/model"
)

// PlainTextProcessor turns an unstructured line stream into AssistantMessage
// entries. Lines
// accumulate into one entry, streamed via add-then-replace, until a blank
// line closes it off.
type PlainTextProcessor struct {
	idx     *IndexProvider
	entry   int
	open    bool
	content strings.Builder
}

// NewPlainTextProcessor returns a processor allocating entry indices from idx.
func NewPlainTextProcessor(idx *IndexProvider) *PlainTextProcessor {
	return &PlainTextProcessor{idx: idx}
}

// Process consumes one raw line, emitting an add or replace patch through
// emit as needed.
func (p *PlainTextProcessor) Process(line string, emit func(json.RawMessage)) {
	clean := ansi.Strip(line)
	if strings.TrimSpace(clean) == "" {
		p.open = false
		p.content.Reset()
		return
	}
	if p.content.Len() > 0 {
		p.content.WriteByte('\n')
	}
	p.content.WriteString(clean)
	if p.open {
		entry := model.CanonicalEntry{Index: p.entry, Type: model.EntryAssistantMessage, Content: p.content.String()}
		emit(ReplaceEntry(p.entry, entry))
		return
	}
	p.entry = p.idx.Next()
	p.open = true
	entry := model.CanonicalEntry{Index: p.entry, Type: model.EntryAssistantMessage, Content: p.content.String()}
	emit(AddEntry(entry))
}
