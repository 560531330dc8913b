package transport

// ConnState is the TCP forwarding session's connection state machine
// (spec §4.8 "connection state machine {NOT_CONNECTED → CONNECTING →
// READY}").
type ConnState int32

const (
	StateNotConnected ConnState = iota
	StateConnecting
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// Framing selects how a message is delimited on the wire (spec §4.8).
type Framing int

const (
	// FramingOctetStuffing terminates each message with LF, appending one
	// if the message doesn't already end in LF.
	FramingOctetStuffing Framing = iota
	// FramingOctetCounting prefixes each message with its decimal byte
	// length and a space: "MSG-LEN SP SYSLOG-MSG".
	FramingOctetCounting
)
