package message

import "github.com/google/uuid"

// Snapshot is a serializable projection of a Message, used by pkg/spool to
// spill admitted-but-undelivered messages to disk across a restart. It
// carries only the single-assignment envelope/syslog fields and the
// structured payload; derived caches are recomputed lazily on the
// reconstructed Message exactly as they would be on a freshly-parsed one.
type Snapshot struct {
	ID      string            `json:"id"`
	Fields  map[int][]byte    `json:"fields"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ToSnapshot captures the Message's current field values and payload tree.
func (m *Message) ToSnapshot() Snapshot {
	m.mu.RLock()
	fields := make(map[int][]byte)
	for id := range m.fields {
		if m.fields[id].set {
			b := make([]byte, len(m.fields[id].bytes))
			copy(b, m.fields[id].bytes)
			fields[id] = b
		}
	}
	m.mu.RUnlock()

	m.payloadMu.Lock()
	payload := m.payload.toMap()
	m.payloadMu.Unlock()

	return Snapshot{ID: m.ID.String(), Fields: fields, Payload: payload}
}

// FromSnapshot reconstructs a Message with reference count 1 from a
// previously captured Snapshot. The reconstructed Message is frozen, since
// by definition it already passed through an input once before being
// spilled.
func FromSnapshot(s Snapshot) *Message {
	m := Construct()
	if id, err := uuid.Parse(s.ID); err == nil {
		m.ID = id
	}
	for id, b := range s.Fields {
		if id < 0 || id >= fieldIDSentinel {
			continue
		}
		m.fields[id] = fieldSlot{set: true, bytes: b}
	}
	if len(s.Payload) > 0 {
		m.payload = nodeFromValue(s.Payload)
	}
	m.frozen = true
	return m
}
