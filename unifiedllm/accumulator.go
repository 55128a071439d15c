package unifiedllm

import (
	"slices"
	"strings"

	"github.com/samber/lo"
)

type toolCallBuilder struct {
	id        string
	name      strings.Builder
	arguments strings.Builder
}

// ToolCallAccumulator reassembles streamed tool-call fragments keyed by
// slot index. The zero value is not usable; call NewToolCallAccumulator.
type ToolCallAccumulator struct {
	slots map[int]*toolCallBuilder
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{slots: make(map[int]*toolCallBuilder)}
}

// Add applies one fragment. The id is taken from the first fragment that
// carries one; name and arguments only ever grow by appending.
func (a *ToolCallAccumulator) Add(f ToolCallFragment) {
	b, ok := a.slots[f.Index]
	if !ok {
		b = &toolCallBuilder{}
		a.slots[f.Index] = b
	}
	if b.id == "" && f.ID != "" {
		b.id = f.ID
	}
	b.name.WriteString(f.NameDelta)
	b.arguments.WriteString(f.ArgumentsDelta)
}

// Len returns the number of slots seen so far.
func (a *ToolCallAccumulator) Len() int {
	return len(a.slots)
}

// Finalize returns the accumulated calls ordered by ascending slot index,
// regardless of the order in which slots first appeared.
func (a *ToolCallAccumulator) Finalize() []ToolCall {
	indexes := lo.Keys(a.slots)
	slices.Sort(indexes)
	return lo.Map(indexes, func(idx int, _ int) ToolCall {
		b := a.slots[idx]
		return ToolCall{ID: b.id, Name: b.name.String(), Arguments: b.arguments.String()}
	})
}

// Reset discards all slots.
func (a *ToolCallAccumulator) Reset() {
	clear(a.slots)
}
