package vm

import (
	"strconv"
	"strings"
	"time"
)

// Kind tags a Value's representation, per spec §4.3 "Values are tagged
// variants".
type Kind int

const (
	KindNone Kind = iota
	KindNumber
	KindString
	KindSyslogTime
)

// Value is a VM stack cell: a tagged variant of Number(int64), String,
// SyslogTime, or None.
type Value struct {
	Kind   Kind
	Number int64
	Str    []byte
	Time   time.Time
}

func NumberValue(n int64) Value  { return Value{Kind: KindNumber, Number: n} }
func StringValue(s []byte) Value { return Value{Kind: KindString, Str: s} }
func NoneValue() Value           { return Value{Kind: KindNone} }
func TimeValue(t time.Time) Value { return Value{Kind: KindSyslogTime, Time: t} }

// ToBool implements spec §4.3 "ConvToBool": Number≠0, non-empty String,
// and a String representation of a number behaves as the number.
func (v Value) ToBool() bool {
	switch v.Kind {
	case KindNumber:
		return v.Number != 0
	case KindString:
		if len(v.Str) == 0 {
			return false
		}
		if n, ok := parseNumber(v.Str); ok {
			return n != 0
		}
		return true
	case KindSyslogTime:
		return !v.Time.IsZero()
	default:
		return false
	}
}

// ToNumber coerces the value to Number, used by arithmetic operators which
// "promote both operands to Number" (spec §4.3).
func (v Value) ToNumber() int64 {
	switch v.Kind {
	case KindNumber:
		return v.Number
	case KindString:
		n, _ := parseNumber(v.Str)
		return n
	case KindSyslogTime:
		return v.Time.Unix()
	default:
		return 0
	}
}

// ToString coerces the value to String, used by string operators (STRADD,
// contains/startswith) which "promote both operands to String".
func (v Value) ToString() []byte {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return []byte(strconv.FormatInt(v.Number, 10))
	case KindSyslogTime:
		return []byte(v.Time.Format(time.RFC3339))
	default:
		return nil
	}
}

func parseNumber(b []byte) (int64, bool) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// conv implements spec §4.3 "ConvForOperation": if either operand is
// String, both become String and comparisons are lexicographic octet
// order; else both are Number.
func conv(a, b Value) (aOut, bOut Value, asString bool) {
	if a.Kind == KindString || b.Kind == KindString {
		return StringValue(a.ToString()), StringValue(b.ToString()), true
	}
	return NumberValue(a.ToNumber()), NumberValue(b.ToNumber()), false
}
