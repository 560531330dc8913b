package action

import "errors"

// ErrSuspended names the SUSPENDED condition. Submit does not return it: a
// SUSPENDED Action still accepts messages into its queue.
var ErrSuspended = errors.New("action: suspended")

// ErrDisabled is returned by Submit once the Action has reached the
// terminal DISABLED state.
var ErrDisabled = errors.New("action: disabled")
