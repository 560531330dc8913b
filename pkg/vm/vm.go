// Package vm implements the Expression VM (spec §4.3 C3): a stack-based
// virtual machine whose program is compiled at configuration time from a
// recursive-descent parse of a filter expression, and executed against one
// Message per call.
package vm

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rsyslog-core/pipeline/pkg/message"
	"github.com/rsyslog-core/pipeline/pkg/propresolver"
)

// StackDepth is the suggested fixed VM stack depth from spec §4.3.
const StackDepth = 256

// VM holds one evaluation stack and a borrowed current-Message pointer.
// The VM is single-threaded; spec §4.3/§5 require each worker to own its
// own VM instance rather than share one across goroutines.
type VM struct {
	stack [StackDepth]Value
	sp    int

	hostname string // process hostname at startup, for $myhostname
}

// New returns a VM with the process hostname captured once, per spec
// §4.3 "$myhostname (process hostname at startup)".
func New(hostname string) *VM {
	return &VM{hostname: hostname}
}

func (v *VM) reset() {
	v.sp = 0
}

func (v *VM) push(val Value) error {
	if v.sp >= StackDepth {
		return ErrStackOverflow
	}
	v.stack[v.sp] = val
	v.sp++
	return nil
}

func (v *VM) pop() (Value, error) {
	if v.sp == 0 {
		return Value{}, ErrStackEmpty
	}
	v.sp--
	return v.stack[v.sp], nil
}

// Exec runs program against msg and returns the boolean result of the
// top-of-stack value after END_PROG, per spec §4.3 "exec(program, message)
// returns ... the top-of-stack value (for expression filters: coerced to
// boolean) or an error".
func (v *VM) Exec(program Program, msg *message.Message) (bool, error) {
	v.reset()

	for _, instr := range program {
		if err := v.step(instr, msg); err != nil {
			return false, err
		}
		if instr.Op == OpEND_PROG {
			break
		}
	}

	top, err := v.pop()
	if err != nil {
		return false, err
	}
	return top.ToBool(), nil
}

func (v *VM) step(instr Instr, msg *message.Message) error {
	switch instr.Op {
	case OpEND_PROG:
		return nil

	case OpPUSHCONSTANT:
		return v.push(instr.Const)

	case OpPUSHMSGVAR:
		d, err := propresolver.Parse(instr.Str)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidVar, err)
		}
		b, _, err := propresolver.Resolve(msg, d)
		if err != nil {
			return err
		}
		return v.push(StringValue(b))

	case OpPUSHCEEVAR:
		val, ok, err := msg.PayloadAt(instr.Str)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidVar, err)
		}
		if !ok {
			return v.push(NoneValue())
		}
		return v.push(coerceAny(val))

	case OpPUSHSYSVAR:
		return v.push(v.sysVar(instr.Str))

	case OpFUNC_CALL:
		return v.callFunc(instr.Str)

	case OpNOT:
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(boolValue(!a.ToBool()))

	case OpUNARY_MINUS:
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(NumberValue(-a.ToNumber()))

	case OpAND:
		return v.binaryBool(func(a, b bool) bool { return a && b })
	case OpOR:
		return v.binaryBool(func(a, b bool) bool { return a || b })

	case OpPLUS:
		return v.binaryNumber(func(a, b int64) int64 { return a + b })
	case OpMINUS:
		return v.binaryNumber(func(a, b int64) int64 { return a - b })
	case OpTIMES:
		return v.binaryNumber(func(a, b int64) int64 { return a * b })
	case OpDIV:
		return v.binaryNumberErr(func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, nil
			}
			return a / b, nil
		})
	case OpMOD:
		return v.binaryNumberErr(func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, nil
			}
			return a % b, nil
		})

	case OpSTRADD:
		b, err := v.pop()
		if err != nil {
			return err
		}
		a, err := v.pop()
		if err != nil {
			return err
		}
		return v.push(StringValue(append(append([]byte{}, a.ToString()...), b.ToString()...)))

	case OpCMP_EQ, OpCMP_NEQ, OpCMP_LT, OpCMP_GT, OpCMP_LTEQ, OpCMP_GTEQ:
		return v.compare(instr.Op)

	case OpCMP_CONTAINS:
		return v.strCompare(func(hay, needle []byte) bool { return bytes.Contains(hay, needle) })
	case OpCMP_CONTAINSI:
		return v.strCompare(func(hay, needle []byte) bool {
			return bytes.Contains(bytes.ToLower(hay), bytes.ToLower(needle))
		})
	case OpCMP_STARTSWITH:
		return v.strCompare(func(hay, needle []byte) bool { return bytes.HasPrefix(hay, needle) })
	case OpCMP_STARTSWITHI:
		return v.strCompare(func(hay, needle []byte) bool {
			return bytes.HasPrefix(bytes.ToLower(hay), bytes.ToLower(needle))
		})

	default:
		return ErrInvalidOpcode
	}
}

func boolValue(b bool) Value {
	if b {
		return NumberValue(1)
	}
	return NumberValue(0)
}

func (v *VM) binaryBool(f func(a, b bool) bool) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}
	return v.push(boolValue(f(a.ToBool(), b.ToBool())))
}

func (v *VM) binaryNumber(f func(a, b int64) int64) error {
	return v.binaryNumberErr(func(a, b int64) (int64, error) { return f(a, b), nil })
}

func (v *VM) binaryNumberErr(f func(a, b int64) (int64, error)) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}
	n, err := f(a.ToNumber(), b.ToNumber())
	if err != nil {
		return err
	}
	return v.push(NumberValue(n))
}

func (v *VM) strCompare(f func(hay, needle []byte) bool) error {
	needle, err := v.pop()
	if err != nil {
		return err
	}
	hay, err := v.pop()
	if err != nil {
		return err
	}
	return v.push(boolValue(f(hay.ToString(), needle.ToString())))
}

// compare implements spec §4.3 "Comparison semantics": both operands are
// coerced via ConvForOperation, then compared lexicographically (String)
// or numerically (Number).
func (v *VM) compare(op Op) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}

	ac, bc, asString := conv(a, b)

	var cmp int
	if asString {
		cmp = bytes.Compare(ac.Str, bc.Str)
	} else {
		switch {
		case ac.Number < bc.Number:
			cmp = -1
		case ac.Number > bc.Number:
			cmp = 1
		default:
			cmp = 0
		}
	}

	var result bool
	switch op {
	case OpCMP_EQ:
		result = cmp == 0
	case OpCMP_NEQ:
		result = cmp != 0
	case OpCMP_LT:
		result = cmp < 0
	case OpCMP_GT:
		result = cmp > 0
	case OpCMP_LTEQ:
		result = cmp <= 0
	case OpCMP_GTEQ:
		result = cmp >= 0
	}
	return v.push(boolValue(result))
}

func (v *VM) callFunc(name string) error {
	arityVal, err := v.pop()
	if err != nil {
		return err
	}
	argc := int(arityVal.ToNumber())
	if v.sp < argc {
		return ErrInvalidArgCount
	}

	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		a, err := v.pop()
		if err != nil {
			return err
		}
		args[i] = a
	}

	fn, ok := builtinRegistry.lookup([]byte(strings.ToLower(name)))
	if !ok {
		return fmt.Errorf("%w: unknown function %q", ErrInvalidVar, name)
	}
	result, err := fn(args)
	if err != nil {
		return err
	}
	return v.push(result)
}

func (v *VM) sysVar(name string) Value {
	now := time.Now()
	switch strings.ToLower(name) {
	case "now":
		return TimeValue(now)
	case "year":
		return NumberValue(int64(now.Year()))
	case "month":
		return NumberValue(int64(now.Month()))
	case "day":
		return NumberValue(int64(now.Day()))
	case "hour":
		return NumberValue(int64(now.Hour()))
	case "minute":
		return NumberValue(int64(now.Minute()))
	case "myhostname":
		return StringValue([]byte(v.hostname))
	default:
		return NoneValue()
	}
}

func coerceAny(val interface{}) Value {
	switch t := val.(type) {
	case string:
		return StringValue([]byte(t))
	case float64:
		return NumberValue(int64(t))
	case int:
		return NumberValue(int64(t))
	case int64:
		return NumberValue(t)
	case bool:
		return boolValue(t)
	default:
		return StringValue([]byte(fmt.Sprintf("%v", t)))
	}
}
