package batchqueue

import "github.com/rsyslog-core/pipeline/pkg/message"

// Batch is a fixed-capacity ordered sequence of Message references, each
// with a per-element commit state, plus an iDoneUpTo cursor so partial
// progress survives a module return that only processed a prefix (spec §3
// "Batch (C7 unit)").
type Batch struct {
	id int64

	Messages []*message.Message
	States   []ElementState

	// DoneUpTo is the cursor: elements below it are final (COMMITTED or
	// otherwise resolved), the element at it reflects the module's most
	// recent return code, elements above it are untouched.
	DoneUpTo int
}

// Len reports the batch size.
func (b *Batch) Len() int { return len(b.Messages) }

// SetState records the outcome for one element, per spec §4.5 "The Action
// multiplies module-level errors into per-element states using the
// batch's iDoneUpTo cursor".
func (b *Batch) SetState(index int, state ElementState) {
	b.States[index] = state
	if state != StateRDY && index >= b.DoneUpTo {
		b.DoneUpTo = index + 1
	}
}

// Pending returns the index range [DoneUpTo, Len) still awaiting a
// decision — the "elements above are left RDY for retry" remainder from
// spec §4.5.
func (b *Batch) Pending() (messages []*message.Message, startIndex int) {
	return b.Messages[b.DoneUpTo:], b.DoneUpTo
}
