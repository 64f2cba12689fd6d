// Package client provides typed proxies over the frame transport. A proxy
// encodes its request payload, sends it through any Caller, and decodes the
// response frame back into Go values.
package client

import (
	"fmt"

	"uds-rpc/codec"
	"uds-rpc/protocol"
)

// Caller issues one request frame and returns the complete response frame.
// transport.Channel and Pool both satisfy it.
type Caller interface {
	Call(routineID uint32, payload []byte) ([]byte, error)
}

// responsePayload validates a response frame and returns a buffer positioned
// at the start of its payload.
func responsePayload(frame []byte, wantRoutine uint32) (*codec.Buffer, error) {
	parsed, consumed, err := protocol.NextFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("client: invalid response frame: %w", err)
	}
	if consumed == 0 {
		return nil, fmt.Errorf("client: truncated response frame (%d bytes)", len(frame))
	}
	if parsed.RoutineID != wantRoutine {
		return nil, fmt.Errorf("client: response routine %#x, want %#x", parsed.RoutineID, wantRoutine)
	}
	buf, err := codec.NewBuffer(parsed.Payload)
	if err != nil {
		return nil, fmt.Errorf("client: empty response payload: %w", err)
	}
	return buf, nil
}
