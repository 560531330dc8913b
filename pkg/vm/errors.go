package vm

import "errors"

// Errors returned by Exec, matching spec §4.3's named VM error conditions.
var (
	ErrStackOverflow  = errors.New("vm: stack overflow")
	ErrStackEmpty     = errors.New("vm: stack empty")
	ErrInvalidOpcode  = errors.New("vm: invalid opcode")
	ErrInvalidVar     = errors.New("vm: invalid variable")
	ErrInvalidArgCount = errors.New("vm: invalid argument count")
)

// ErrSyntax is returned by Compile on a malformed expression. It is not
// part of the spec's runtime error taxonomy (those apply to Exec); it
// surfaces at configuration time per spec §7 "Configuration" error class.
var ErrSyntax = errors.New("vm: syntax error")
