// Package protocol defines the wire format for the gatescan operator console
// WebSocket protocol. Front-of-house displays and the manual-entry UI speak
// this protocol to the scanning engine.
package protocol

import "encoding/json"

// Protocol version. Clients declare theirs in the connect handshake;
// mismatches are rejected.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by console clients to invoke a method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // unique request ID (client-generated)
	Method string          `json:"method"` // method name
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is sent by the engine in response to a request.
type ResponseFrame struct {
	Type    string      `json:"type"`              // always "res"
	ID      string      `json:"id"`                // matches request ID
	OK      bool        `json:"ok"`                // true if success
	Payload interface{} `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// EventFrame is pushed from the engine to clients without a preceding request.
type EventFrame struct {
	Type    string      `json:"type"`              // always "event"
	Event   string      `json:"event"`             // event name
	Payload interface{} `json:"payload,omitempty"` // event data
	Seq     int64       `json:"seq,omitempty"`     // ordering sequence number
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: payload,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
