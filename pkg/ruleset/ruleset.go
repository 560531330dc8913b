// Package ruleset implements the Ruleset component (spec §3/§4.4 C5): an
// ordered list of Filters processed in declaration order against every
// Message from one or more inputs.
package ruleset

import (
	"github.com/rsyslog-core/pipeline/pkg/filter"
	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/vm"
)

// ActionSink is the subset of pkg/action.Action's surface a Ruleset needs:
// enough to enqueue a matched Message without Ruleset importing the action
// package's state-machine internals.
type ActionSink interface {
	Submit(m *message.Message) error
}

// Ruleset is an ordered list of Filters; entry point from the input side
// (spec §3 C5). A Message may match zero, one, or many Filters — a Filter
// never short-circuits the Ruleset (spec §4.4).
type Ruleset struct {
	Name    string
	Filters []*filter.Filter

	// actions maps an Action name (as referenced by filter.Filter.ActionNames)
	// to the live Action accepting Messages for it.
	actions map[string]ActionSink
}

// New returns an empty Ruleset bound to the given action name → sink map.
// The map is typically built once at configuration-activation time from a
// pkg/registry-backed set of configured Actions.
func New(name string, actions map[string]ActionSink) *Ruleset {
	return &Ruleset{Name: name, actions: actions}
}

// ProcessOne runs the per-filter decision for a single Message, enqueuing
// it into every Action of every Filter that matches. It takes one extra
// AddRef per successful enqueue, mirroring spec §3 "each enqueue into an
// Action queue takes an additional reference"; the caller retains its own
// reference and must Release it once this call returns.
func (r *Ruleset) ProcessOne(m *message.Message, v *vm.VM) (matched int, err error) {
	for _, f := range r.Filters {
		ok, ferr := f.Evaluate(m, v)
		if ferr != nil {
			// A single filter's evaluation error (e.g. a transiently
			// unavailable property) must not abort the rest of the
			// ruleset; record and continue, per the "no short-circuit"
			// discipline spec §4.4 applies to filters generally.
			err = ferr
			continue
		}
		if !ok {
			continue
		}
		matched++
		for _, name := range f.ActionNames {
			sink, known := r.actions[name]
			if !known {
				continue
			}
			m.AddRef()
			if serr := sink.Submit(m); serr != nil {
				m.Release()
				err = serr
			}
		}
	}
	return matched, err
}

// Batch is a fixed-size group of Messages submitted together, mirroring
// the Batch unit from spec §3/§4.4's "process_batch(ruleset, batch)".
type Batch []*message.Message

// ProcessBatch runs the per-filter decision for each message in the batch
// and submits to every matching Action, as spec §4.4 describes: "runs the
// per-filter decision for each message, marks a per-element FilterOK flag,
// then submits the batch once to each Action." Per-message submission
// below achieves the same effect without materialising the FilterOK array,
// since each Action's own Batch Queue (pkg/batchqueue) re-batches on
// dequeue regardless of how messages arrived.
func (r *Ruleset) ProcessBatch(batch Batch, v *vm.VM) error {
	var firstErr error
	for _, m := range batch {
		if _, err := r.ProcessOne(m, v); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
