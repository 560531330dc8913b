// Package filter implements the Filter component (spec §3/§4.4 C4): one of
// three variants — a facility/severity priority bitmap, a single-property
// comparison, or a compiled Expression VM program — plus the two orthogonal
// hostname/program-name pre-filters evaluated before the main body.
package filter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/propresolver"
	"github.com/rsyslog-core/pipeline/pkg/vm"
)

// Kind tags which Filter body variant is active.
type Kind int

const (
	KindBitmap Kind = iota
	KindPropCmp
	KindExpression
)

// Op is a property-comparison operation (spec §3 "Filter (C4)").
type Op int

const (
	OpContains Op = iota
	OpIsEqual
	OpIsEmpty
	OpStartsWith
	OpRegex  // POSIX BRE
	OpERegex // POSIX ERE
)

// TABLE_ALLPRI and TABLE_NOPRI are the two distinguished bitmap rows named
// by spec §3: "any severity" and "none" respectively.
const (
	TableAllPri byte = 0xFF
	TableNoPri  byte = 0x00
)

// Bitmap is the facility/severity priority table: an array indexed by
// facility (0…23), each entry a mask of severity bits (0…7).
type Bitmap [24]byte

// Matches reports whether (facility, severity) is permitted, per spec §8
// property 2: "M matches iff bitmap[facility(M)] & (1<<severity(M)) != 0".
func (b Bitmap) Matches(facility, severity int) bool {
	if facility < 0 || facility >= len(b) {
		return false
	}
	if severity < 0 || severity > 7 {
		return false
	}
	return b[facility]&(1<<uint(severity)) != 0
}

// PropCmp is a (property, optional path, operation, value, negate) tuple.
type PropCmp struct {
	Property propresolver.Descriptor
	Op       Op
	Value    []byte
	Negate   bool

	// compiledRegex is populated once at configuration time (Compile) for
	// OpRegex/OpERegex and then only ever read, so concurrent evaluation
	// across workers needs no lock (spec §5 "regex compile is per-filter,
	// done once at config time ... execute must tolerate re-entrance").
	compiledRegex *regexp.Regexp
}

// Compile finalises a PropCmp, in particular compiling and caching its
// regex if it uses OpRegex/OpERegex. Must be called once at configuration
// time before the PropCmp is used on the hot path.
func (p *PropCmp) Compile() error {
	switch p.Op {
	case OpRegex:
		re, err := regexp.CompilePOSIX(toBRE(string(p.Value)))
		if err != nil {
			return fmt.Errorf("filter: invalid regex %q: %w", p.Value, err)
		}
		p.compiledRegex = re
	case OpERegex:
		re, err := regexp.CompilePOSIX(string(p.Value))
		if err != nil {
			return fmt.Errorf("filter: invalid eregex %q: %w", p.Value, err)
		}
		p.compiledRegex = re
	}
	return nil
}

// toBRE does a best-effort translation of POSIX Basic Regular Expression
// syntax (bare metacharacters, \(...\) groups, \{m,n\} intervals) into the
// POSIX ERE syntax regexp.CompilePOSIX accepts, since Go's regexp engine
// (RE2) has no native BRE mode. Anchors and literal characters are
// unaffected, which covers spec §8 property 9's `^foo` example exactly.
func toBRE(pattern string) string {
	var sb strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			switch next {
			case '(', ')', '{', '}', '|', '+', '?':
				sb.WriteByte(next)
				i++
				continue
			}
			sb.WriteByte(c)
			continue
		}
		switch c {
		case '(', ')', '{', '}', '|', '+', '?':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Comparator is a single-property comparator used as the hostname/program
// pre-filters (spec §3 "two orthogonal pre-filters"): an exact match or
// exact non-match against a literal.
type Comparator struct {
	Literal string
	Negate  bool
}

// Matches implements the exact-match/exact-non-match semantics.
func (c Comparator) Matches(value []byte) bool {
	eq := string(value) == c.Literal
	if c.Negate {
		return !eq
	}
	return eq
}

// Filter ties a compiled body (bitmap / prop-cmp / expression) to a
// sequence of Action names (spec §3 C4), plus the two pre-filters.
type Filter struct {
	Kind Kind

	Bitmap  Bitmap
	PropCmp PropCmp
	Program vm.Program

	HostnameFilter    *Comparator
	ProgramNameFilter *Comparator

	// ActionNames names the Actions (resolved by the caller, e.g. a
	// Ruleset, against a pkg/action registry) that accept Messages
	// matching this Filter.
	ActionNames []string
}

// Evaluate implements the per-Message protocol from spec §4.4:
//  1. hostname comparator, if set; mismatch skips.
//  2. program-name comparator, if set; mismatch skips.
//  3. the Filter body; true enqueues to every Action of this Filter.
func (f *Filter) Evaluate(m *message.Message, v *vm.VM) (bool, error) {
	if f.HostnameFilter != nil {
		host, _ := m.Field(message.FieldHostname)
		if !f.HostnameFilter.Matches(host) {
			return false, nil
		}
	}
	if f.ProgramNameFilter != nil {
		if !f.ProgramNameFilter.Matches(m.ProgramName()) {
			return false, nil
		}
	}

	switch f.Kind {
	case KindBitmap:
		fac, _ := m.Field(message.FieldFacility)
		sev, _ := m.Field(message.FieldSeverity)
		return f.Bitmap.Matches(decodeInt(fac), decodeInt(sev)), nil

	case KindPropCmp:
		return f.evaluatePropCmp(m)

	case KindExpression:
		return v.Exec(f.Program, m)

	default:
		return false, fmt.Errorf("filter: unknown kind %d", f.Kind)
	}
}

func (f *Filter) evaluatePropCmp(m *message.Message) (bool, error) {
	val, _, err := propresolver.Resolve(m, f.PropCmp.Property)
	if err != nil {
		return false, err
	}

	var result bool
	switch f.PropCmp.Op {
	case OpContains:
		result = bytes.Contains(val, f.PropCmp.Value)
	case OpIsEqual:
		result = bytes.Equal(val, f.PropCmp.Value)
	case OpIsEmpty:
		result = len(val) == 0
	case OpStartsWith:
		result = bytes.HasPrefix(val, f.PropCmp.Value)
	case OpRegex, OpERegex:
		if f.PropCmp.compiledRegex == nil {
			return false, fmt.Errorf("filter: regex not compiled; call PropCmp.Compile at config time")
		}
		result = f.PropCmp.compiledRegex.Match(val)
	default:
		return false, fmt.Errorf("filter: unknown op %d", f.PropCmp.Op)
	}

	if f.PropCmp.Negate {
		result = !result
	}
	return result, nil
}

func decodeInt(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
