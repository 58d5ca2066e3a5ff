package protocol

// WebSocket event names pushed from the engine to console clients.
const (
	// EventStateChanged fires on every coordinator state transition.
	EventStateChanged = "state.changed"

	// EventScanDecoded fires when the scan loop decodes a fresh payload
	// (before normalization, so the payload may still be rejected).
	EventScanDecoded = "scan.decoded"

	// EventCheckinResult fires when a redemption attempt resolves.
	EventCheckinResult = "checkin.result"

	// EventShutdown is sent to all clients when the engine stops.
	EventShutdown = "shutdown"
)

// Request method names.
const (
	MethodConnect      = "connect"
	MethodStatusGet    = "status.get"
	MethodManualEntry  = "checkin.manual"
	MethodScannerStart = "scanner.start"
	MethodScannerStop  = "scanner.stop"
)

// StatePayload is the payload of state.changed events and status.get responses.
type StatePayload struct {
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
	Attendee string `json:"attendee,omitempty"`
	Camera   bool   `json:"camera"`
}

// ConnectParams is the params shape for connect requests. Version is
// checked against ProtocolVersion; zero means the client did not declare
// one and is accepted as-is.
type ConnectParams struct {
	Version int `json:"version"`
}

// ManualEntryParams is the params shape for checkin.manual requests.
type ManualEntryParams struct {
	Code string `json:"code"`
}

// CheckinResultPayload is the payload of checkin.result events.
type CheckinResultPayload struct {
	OK       bool   `json:"ok"`
	Code     string `json:"code"`
	Attendee string `json:"attendee,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Source   string `json:"source"`
}
