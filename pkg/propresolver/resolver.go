// Package propresolver implements the Property Resolver (spec §3 C2): a
// pure function mapping a property descriptor to a borrowed or owned byte
// slice taken from a Message.
//
// The textual property name is parsed into a Descriptor once, at
// configuration time (when a Filter or template is compiled), so the hot
// path taken on every Message never re-parses a string — the discipline
// spec §4.2 calls out explicitly.
package propresolver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/rsyslog-core/pipeline/pkg/message"
)

// Descriptor is the configuration-time-resolved form of a property name:
// either a direct envelope/syslog FieldID, or a JSON path into the
// structured payload.
type Descriptor struct {
	Field FieldID
	// JSONPath is set only when Field == FieldJSONPath; it addresses a
	// node in the Message's structured ("$!") payload.
	JSONPath string
}

// FieldID mirrors message.FieldID plus one extra sentinel for the
// structured-payload case, which message.FieldID does not need to know
// about since it is resolved through Message.PayloadAt instead.
type FieldID int

const (
	FieldUnknown FieldID = iota
	FieldJSONPath
	fieldOffset // ids from here up map onto message.FieldID (id - fieldOffset)
)

// parseCacheEntry pairs the original name with its parsed Descriptor so a
// hash collision in the xxhash-keyed cache below is detected rather than
// silently returning the wrong property.
type parseCacheEntry struct {
	name string
	desc Descriptor
}

// parseCache memoizes Parse results by an xxhash digest of the property
// name: configuration files that reference a handful of property names
// (msg, hostname, $!app) across many Filters and templates would otherwise
// re-run the same string comparisons on every Compile call.
var parseCache sync.Map // map[uint64]parseCacheEntry

// Parse compiles a textual property name ("msg", "hostname", "$!app",
// "$!kubernetes!pod_name", ...) into a Descriptor. System
// variables ($now, $year, ...) are handled by pkg/vm directly and are not
// valid here; Parse only covers envelope/syslog/CEE properties.
func Parse(name string) (Descriptor, error) {
	key := xxhash.Sum64String(name)
	if v, ok := parseCache.Load(key); ok {
		entry := v.(parseCacheEntry)
		if entry.name == name {
			return entry.desc, nil
		}
	}

	desc, err := parse(name)
	if err != nil {
		return desc, err
	}
	parseCache.Store(key, parseCacheEntry{name: name, desc: desc})
	return desc, nil
}

func parse(name string) (Descriptor, error) {
	if strings.HasPrefix(name, "$!") {
		return Descriptor{Field: FieldJSONPath, JSONPath: name}, nil
	}

	id, ok := wellKnown[strings.ToLower(name)]
	if !ok {
		return Descriptor{}, fmt.Errorf("propresolver: unknown property %q", name)
	}
	return Descriptor{Field: FieldUnknown + FieldID(id) + fieldOffset}, nil
}

var wellKnown = map[string]message.FieldID{
	"msg":             message.FieldMsg,
	"rawmsg":          message.FieldRawMsg,
	"hostname":        message.FieldHostname,
	"fromhost":        message.FieldFromHost,
	"syslogtag":       message.FieldTag,
	"programname":     message.FieldProgramName,
	"app-name":        message.FieldAppName,
	"procid":          message.FieldProcID,
	"msgid":           message.FieldMsgID,
	"structured-data": message.FieldStructuredData,
	"syslogfacility":  message.FieldFacility,
	"syslogseverity":  message.FieldSeverity,
	"inputname":       message.FieldInputName,
	"pri":             message.FieldPRI,
	"timestamp":       message.FieldOriginAt,
	"timereported":    message.FieldOriginAt,
	"timegenerated":   message.FieldReceivedAt,
}

// toMessageField converts a resolved Descriptor back to a message.FieldID
// for direct, non-JSON properties.
func (d Descriptor) toMessageField() message.FieldID {
	return message.FieldID(d.Field - fieldOffset)
}

// Resolve fetches the property named by d from m. mustFree reports whether
// the returned bytes are owned by the caller (a transient formatted value,
// safe to retain) or borrowed from the Message (valid only until the next
// structured-payload mutation, per spec §4.1).
func Resolve(m *message.Message, d Descriptor) (value []byte, mustFree bool, err error) {
	if d.Field == FieldJSONPath {
		v, ok, perr := m.PayloadAt(d.JSONPath)
		if perr != nil {
			return nil, false, perr
		}
		if !ok {
			return nil, false, nil
		}
		return []byte(fmt.Sprintf("%v", v)), true, nil
	}

	mf := d.toMessageField()
	switch mf {
	case message.FieldPRI:
		return m.PRI(), false, nil
	case message.FieldProgramName:
		return m.ProgramName(), false, nil
	default:
		b, ok := m.Field(mf)
		if !ok {
			return nil, false, nil
		}
		return b, false, nil
	}
}
