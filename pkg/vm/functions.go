package vm

import (
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Function is a built-in VM function. It receives its arguments in call
// order (already popped off the stack and reversed by the caller) and
// returns exactly one result, per spec §4.3 "Function calls".
type Function func(args []Value) (Value, error)

// getenvMu serialises calls to os.Getenv because the host libc getenv is
// not thread-safe in the source this was distilled from (spec §4.3, §5
// "process-global state: the getenv serialisation mutex"). Go's os.Getenv
// is itself safe for concurrent use, but the mutex is kept so the VM's
// documented concurrency contract matches the source's discipline exactly
// rather than silently relying on a runtime guarantee callers shouldn't
// need to know about.
var getenvMu sync.Mutex

var builtins = map[string]Function{
	"strlen": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, ErrInvalidArgCount
		}
		return NumberValue(int64(len(args[0].ToString()))), nil
	},
	"tolower": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, ErrInvalidArgCount
		}
		return StringValue(toLowerASCII(args[0].ToString())), nil
	},
	"getenv": func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, ErrInvalidArgCount
		}
		getenvMu.Lock()
		v := os.Getenv(string(args[0].ToString()))
		getenvMu.Unlock()
		return StringValue([]byte(v)), nil
	},
}

// functionRegistry indexes builtins by an xxhash digest of their lowercased
// name rather than the string itself, so a hot call-opcode lookup (spec §4.3
// "Function calls" is on the VM's per-Message execution path) hashes once
// with a fast non-cryptographic function instead of Go's generic string map
// hash, which is tuned for adversarial-input resistance the VM's trusted,
// configuration-time-fixed function names don't need.
type functionRegistry struct {
	byHash map[uint64]Function
}

func newFunctionRegistry(named map[string]Function) *functionRegistry {
	r := &functionRegistry{byHash: make(map[uint64]Function, len(named))}
	for name, fn := range named {
		r.byHash[xxhash.Sum64(toLowerASCII([]byte(name)))] = fn
	}
	return r
}

// lookup finds the builtin registered under lowerName (already lowercased by
// the caller, per the VM's existing strings.ToLower discipline at the call
// site).
func (r *functionRegistry) lookup(lowerName []byte) (Function, bool) {
	fn, ok := r.byHash[xxhash.Sum64(lowerName)]
	return fn, ok
}

var builtinRegistry = newFunctionRegistry(builtins)

func toLowerASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
