package vm

// Op is one Expression VM opcode (spec §4.3 "full set").
type Op int

const (
	OpOR Op = iota
	OpAND
	OpNOT
	OpPLUS
	OpMINUS
	OpTIMES
	OpDIV
	OpMOD
	OpUNARY_MINUS
	OpSTRADD

	OpCMP_EQ
	OpCMP_NEQ
	OpCMP_LT
	OpCMP_GT
	OpCMP_LTEQ
	OpCMP_GTEQ
	OpCMP_CONTAINS
	OpCMP_CONTAINSI
	OpCMP_STARTSWITH
	OpCMP_STARTSWITHI

	OpPUSHCONSTANT
	OpPUSHMSGVAR
	OpPUSHSYSVAR
	OpPUSHCEEVAR
	OpFUNC_CALL
	OpEND_PROG
)

// Instr is one compiled instruction. Operand usage depends on Op:
//   - OpPUSHCONSTANT: Const holds the literal value.
//   - OpPUSHMSGVAR/OpPUSHSYSVAR/OpPUSHCEEVAR: Str names the variable.
//   - OpFUNC_CALL: Str names the function; the arity is pushed as a Number
//     constant just before it (Int is not used).
type Instr struct {
	Op    Op
	Const Value
	Str   string
	Int   int
}

// Program is a compiled, linearly-addressed instruction sequence. Unlike
// the source's linked-list opcode chain (spec §9 "object-system
// emulation"), a flat slice is the idiomatic Go representation and needs
// no arena: execution is a simple program counter walk.
type Program []Instr
