package message

// FieldID identifies one envelope or syslog field of a Message. Hot-path
// property lookups resolve a textual name to a FieldID once, at
// configuration time, so the runtime path never parses strings (see
// pkg/propresolver).
type FieldID int

const (
	FieldUnknown FieldID = iota

	// Envelope fields.
	FieldReceivedAt  // wall-clock receive time, sub-second precision
	FieldOriginAt    // timestamp as parsed from the wire
	FieldInputName   // receiving interface identifier
	FieldFromHost    // sender address

	// Syslog fields.
	FieldFacility
	FieldSeverity
	FieldHostname
	FieldTag
	FieldAppName
	FieldProcID
	FieldMsgID
	FieldStructuredData
	FieldMsg
	FieldRawMsg

	// Derived, lazily-computed caches. Write-once: the first caller to
	// observe an unset value computes and pins it.
	FieldPRI
	FieldTimestamp3164
	FieldTimestamp3339
	FieldTimestampISOSQL
	FieldProgramName

	fieldIDSentinel // count of known field ids; never resolved to a value
)

// singleAssign reports whether a FieldID may only be written once via
// WithField. Derived caches are excluded: they are written by the lazy
// getters under their own write-once discipline, not via WithField.
func (f FieldID) singleAssign() bool {
	switch f {
	case FieldPRI, FieldTimestamp3164, FieldTimestamp3339, FieldTimestampISOSQL, FieldProgramName:
		return false
	default:
		return f > FieldUnknown && f < fieldIDSentinel
	}
}
