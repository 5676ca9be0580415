// Package proto implements the control-channel wire protocol between the
// pool supervisor and its worker processes.
//
// A frame is one JSON array per line. Requests carry a tag in the first
// element; responses echo the tag followed by a boolean outcome:
//
//	["stop"]    → ["stop", true]
//	["status"]  → ["status", true, <job id or null>, <running>]
//	["other"]   → ["other", false]
//	malformed   → ["error", "Invalid message format"]
//
// A request the supervisor gives up on yields the local sentinel
// ["no response", false]; that frame never travels the wire.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Recognized tags.
const (
	TagStop       = "stop"
	TagStatus     = "status"
	TagError      = "error"
	TagNoResponse = "no response"
)

// ErrMalformed reports a frame that is not a non-empty JSON array.
var ErrMalformed = errors.New("invalid message format")

// Message is one control-channel frame.
type Message []any

// Tag returns the first element of the message as a string.
func (m Message) Tag() (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	tag, ok := m[0].(string)
	return tag, ok
}

// OK reports whether the second element is boolean true — the positive
// acknowledgement slot in every response frame.
func (m Message) OK() bool {
	if len(m) < 2 {
		return false
	}
	ok, _ := m[1].(bool)
	return ok
}

// IsStopAck reports whether m is the ["stop", true] acknowledgement.
func (m Message) IsStopAck() bool {
	tag, ok := m.Tag()
	return ok && tag == TagStop && m.OK()
}

// Encode renders m as a single newline-terminated JSON line.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}
	return append(b, '\n'), nil
}

// Decode parses one line into a Message. Anything that is not a non-empty
// JSON array yields ErrMalformed.
func Decode(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, ErrMalformed
	}
	if len(m) == 0 {
		return nil, ErrMalformed
	}
	return m, nil
}

// Stop is the stop request.
func Stop() Message { return Message{TagStop} }

// StopAck acknowledges a stop request.
func StopAck() Message { return Message{TagStop, true} }

// Status is the status request.
func Status() Message { return Message{TagStatus} }

// StatusReply reports the worker's current job (nil when idle) and running
// flag.
func StatusReply(jobID *uuid.UUID, running bool) Message {
	var j any
	if jobID != nil {
		j = jobID.String()
	}
	return Message{TagStatus, true, j, running}
}

// NegAck rejects an unrecognized tag by echoing it with a negative flag.
func NegAck(tag string) Message { return Message{tag, false} }

// InvalidFormat is the reply to a malformed frame.
func InvalidFormat() Message { return Message{TagError, "Invalid message format"} }

// NoResponse is the sentinel for a request that timed out.
func NoResponse() Message { return Message{TagNoResponse, false} }
