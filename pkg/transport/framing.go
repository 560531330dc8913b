package transport

import (
	"fmt"
)

// frame wraps payload per the selected Framing (spec §4.8). Compressed
// payloads (identified by the leading 'z' byte) always use octet-counting
// regardless of the session's configured framing, since the compressed
// byte stream may itself contain LF.
func frame(payload []byte, framing Framing) []byte {
	if len(payload) > 0 && payload[0] == 'z' {
		framing = FramingOctetCounting
	}

	switch framing {
	case FramingOctetCounting:
		prefix := []byte(fmt.Sprintf("%d ", len(payload)))
		return append(prefix, payload...)
	default: // FramingOctetStuffing
		if len(payload) == 0 || payload[len(payload)-1] != '\n' {
			return append(append([]byte{}, payload...), '\n')
		}
		return payload
	}
}
