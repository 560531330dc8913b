// Package message implements the core Message object (spec §3, §4.1): a
// reference-counted syslog record whose envelope and syslog fields freeze on
// first write, whose derived caches compute lazily and pin, and whose
// structured ("CEE", `$!`) payload is the only part that may keep growing
// after the message enters the ruleset.
//
// The reference-counting discipline mirrors the teacher's manual-refcount
// heritage (spec §9 "Manual reference counting") but is rebuilt on Go's
// native shared-ownership primitive: an atomic counter plus a single owned
// destructor. Every AddRef and Release is an atomic operation; there is no
// separate non-atomic path for a Message with a single owner.
package message

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Message carries one log record, its parsed fields, its derived caches,
// and a reference count (spec §3 C1).
type Message struct {
	// ID correlates this message across Action queues and trace spans.
	// Not part of the original C struct; added so internal/telemetry can
	// tag spans without re-deriving an identity from mutable content.
	ID uuid.UUID

	mu sync.RWMutex // guards fields below once the message is frozen

	fields [fieldIDSentinel]fieldSlot

	payload    payloadNode
	payloadMu  sync.Mutex // guards payload only; fields above use mu

	frozen bool // true once the message has entered the ruleset

	refs int32 // atomic; see add_ref/release

	derived *derivedCaches // lazily allocated, guarded by mu
}

type fieldSlot struct {
	set   bool
	bytes []byte
}

// Construct returns an empty Message with reference count 1 and every
// field unset, per spec §4.1 "construct()".
func Construct() *Message {
	return &Message{
		ID:   uuid.New(),
		refs: 1,
		payload: payloadNode{
			kind:     nodeObject,
			children: make(map[string]*payloadNode),
		},
	}
}

// WithField assigns an envelope or syslog field. It returns ErrAlreadySet if
// the field has single-assignment semantics and has already been written,
// or if the Message has been frozen.
// Derived caches cannot be set this way; use the lazy getters instead.
func (m *Message) WithField(id FieldID, value []byte) error {
	if !id.singleAssign() {
		return fmt.Errorf("%w: field %d is not directly assignable", ErrUnknownField, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return fmt.Errorf("%w: message is frozen", ErrAlreadySet)
	}
	if m.fields[id].set {
		return ErrAlreadySet
	}
	m.fields[id].set = true
	m.fields[id].bytes = value
	return nil
}

// Field returns the raw bytes for an envelope/syslog field and whether it
// was ever set. It does not compute derived caches; use the dedicated
// PRI/Timestamp/ProgramName getters for those.
func (m *Message) Field(id FieldID) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.fields[id]
	return s.bytes, s.set
}

// Freeze marks the envelope and syslog fields read-only. Called by the
// input once parsing completes and the Message is handed to a Ruleset
// (spec §3 invariants: "once a Message enters the ruleset, its envelope and
// syslog fields are read-only").
func (m *Message) Freeze() {
	m.mu.Lock()
	m.frozen = true
	m.mu.Unlock()
}

// AddRef increments the reference count. Called once per Action that
// accepts the Message into its Batch Queue.
func (m *Message) AddRef() {
	atomic.AddInt32(&m.refs, 1)
}

// Release decrements the reference count. When it reaches zero the
// Message's owned buffers are released exactly once. Release must never be
// called more times than AddRef plus the implicit initial reference from
// Construct, or the count observably goes negative — a programming error
// the caller is expected to have prevented (spec §3 invariant).
func (m *Message) Release() {
	if atomic.AddInt32(&m.refs, -1) == 0 {
		m.destroy()
	}
}

// RefCount reports the current reference count. Exposed for tests
// verifying spec §8 property 1 (reference-count safety); not meant to gate
// production control flow, since it can change the instant it's read.
func (m *Message) RefCount() int32 {
	return atomic.LoadInt32(&m.refs)
}

// destroy iteratively frees the payload tree. Iterative, not recursive,
// per spec §9: arbitrarily deep payloads from untrusted enrichment sources
// must not blow the stack.
func (m *Message) destroy() {
	m.payloadMu.Lock()
	defer m.payloadMu.Unlock()

	stack := []*payloadNode{&m.payload}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for k, child := range n.children {
			stack = append(stack, child)
			delete(n.children, k)
		}
	}
}

// Clone returns a deep copy with a fresh reference count of 1. This is the
// spec §4.1 "duplicate()" operation, used when an Action needs a private
// mutable copy (the TPL_AS_MSG path of spec §6).
func (m *Message) Clone() *Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := &Message{
		ID:   uuid.New(),
		refs: 1,
	}
	out.fields = m.fields
	for i := range out.fields {
		if m.fields[i].set {
			b := make([]byte, len(m.fields[i].bytes))
			copy(b, m.fields[i].bytes)
			out.fields[i].bytes = b
		}
	}

	m.payloadMu.Lock()
	out.payload = m.payload.deepCopy()
	m.payloadMu.Unlock()

	out.frozen = m.frozen
	return out
}

// derivedCache holds the lazily-computed, write-once formatted values
// described in spec §3/§4.2. They live outside the fixed-size fields array
// because they're computed from other fields rather than set directly.
type derivedCache struct {
	once  sync.Once
	value []byte
}

// --- derived caches: PRI, timestamps, program name ---

// these live alongside the Message but are stored in a side table keyed by
// the Message pointer's identity is unnecessary; Go closures over sync.Once
// embedded directly in the struct are simpler and avoid a map lookup.
type derivedCaches struct {
	pri            derivedCache
	ts3164         derivedCache
	ts3339         derivedCache
	tsISOSQL       derivedCache
	programName    derivedCache
}

func (m *Message) caches() *derivedCaches {
	// Lazily allocated on first use; guarded by mu because the pointer
	// itself is written once under lock.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.derived == nil {
		m.derived = &derivedCaches{}
	}
	return m.derived
}

// PRI returns the formatted "<prio>" string (facility*8+severity),
// computing it on first call and pinning the result (spec §3 "formatted
// PRI string").
func (m *Message) PRI() []byte {
	c := m.caches()
	c.pri.once.Do(func() {
		fac, _ := m.Field(FieldFacility)
		sev, _ := m.Field(FieldSeverity)
		prio := decodeSmallInt(fac)*8 + decodeSmallInt(sev)
		c.pri.value = []byte(fmt.Sprintf("<%d>", prio))
	})
	return c.pri.value
}

// Timestamp3164 returns the RFC 3164 formatted origin timestamp, computed
// and pinned on first call.
func (m *Message) Timestamp3164() []byte {
	return m.formattedTimestamp(&m.caches().ts3164, time.Stamp)
}

// Timestamp3339 returns the RFC 3339 formatted origin timestamp.
func (m *Message) Timestamp3339() []byte {
	return m.formattedTimestamp(&m.caches().ts3339, time.RFC3339)
}

// TimestampISOSQL returns the ISO-SQL shaped origin timestamp
// ("YYYY-MM-DD HH:MM:SS.ssssss").
func (m *Message) TimestampISOSQL() []byte {
	return m.formattedTimestamp(&m.caches().tsISOSQL, "2006-01-02 15:04:05.000000")
}

func (m *Message) formattedTimestamp(c *derivedCache, layout string) []byte {
	c.once.Do(func() {
		raw, ok := m.Field(FieldOriginAt)
		var t time.Time
		if ok {
			t, _ = time.Parse(time.RFC3339Nano, string(raw))
		}
		if t.IsZero() {
			t = time.Now()
		}
		c.value = []byte(t.Format(layout))
	})
	return c.value
}

// ProgramName returns the Tag with any PID/instance suffix
// (e.g. "sshd[1234]") stripped, per spec §3 "program-name (tag minus
// instance suffix)".
func (m *Message) ProgramName() []byte {
	c := m.caches()
	c.programName.once.Do(func() {
		tag, _ := m.Field(FieldTag)
		s := string(tag)
		if idx := strings.IndexByte(s, '['); idx >= 0 {
			s = s[:idx]
		}
		c.programName.value = []byte(s)
	})
	return c.programName.value
}

func decodeSmallInt(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
