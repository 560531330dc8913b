package transport

import "errors"

// ErrConnectingBufferFull is returned when a message arrives during
// CONNECTING and the one-slot hold buffer is already occupied (spec §4.8
// "subsequent messages during CONNECTING are dropped and counted").
var ErrConnectingBufferFull = errors.New("transport: connecting buffer full, message dropped")

// ErrSuspend signals the caller (the Action) that the transport failed and
// the Action should move to SUSPENDED, per spec §4.8 "the caller receives
// SUSPEND".
var ErrSuspend = errors.New("transport: send failed, suspend")
