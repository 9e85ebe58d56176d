package normalizer

import "sync/atomic"

// IndexProvider allocates strictly increasing entry indices for one
// execution's conversation stream. The
// zero value starts counting from 0.
type IndexProvider struct {
	n atomic.Int64
}

// NewIndexProvider returns a provider that allocates starting from start
// (used when resuming against conversation history that already has
// start entries).
func NewIndexProvider(start int) *IndexProvider {
	p := &IndexProvider{}
	p.n.Store(int64(start))
	return p
}

// Next returns the next index and advances the counter.
func (p *IndexProvider) Next() int {
	return int(p.n.Add(1) - 1)
}
