package message

import "errors"

// Sentinel errors returned by Message operations. Callers match on these
// with errors.Is rather than inspecting internal state.
var (
	// ErrAlreadySet is returned by WithField when a single-assignment
	// envelope/syslog field is written a second time.
	ErrAlreadySet = errors.New("message: field already set")

	// ErrOutOfMemory is returned when an allocation on the hot path fails.
	// Kept as a sentinel (rather than letting the runtime panic) so Action
	// worker loops can treat it as a Fatal-class error per spec §7.
	ErrOutOfMemory = errors.New("message: out of memory")

	// ErrBadPath is returned when a JSON path used to address the
	// structured payload cannot be parsed.
	ErrBadPath = errors.New("message: malformed json path")

	// ErrUnknownField is returned by get_property-style lookups for a
	// field id the resolver doesn't recognise.
	ErrUnknownField = errors.New("message: unknown property")

	// ErrReleased is returned by any operation attempted on a Message
	// whose reference count has already reached zero.
	ErrReleased = errors.New("message: use after release")
)
