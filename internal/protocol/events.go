package protocol

// Inbound event types. Requester and carrier variants are role-gated in the
// dispatcher.
const (
	EventRequestPickup     = "request_pickup"
	EventCancelPickup      = "cancel_pickup"
	EventStartRide         = "start_ride"
	EventEndRide           = "end_ride"
	EventRequesterLocation = "requester_location_update"
	EventCarrierLocation   = "carrier_location_update"
	EventGetStatus         = "get_status"
)

// ClientEvent is the single inbound message shape. Coordinates are only
// meaningful for the event types that carry them.
type ClientEvent struct {
	Type string  `json:"type"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// ActionAck answers a start/stop request. Success=false is a business
// rejection (outside any zone, already active), not a transport error.
type ActionAck struct {
	Type         string `json:"type"` // "action_ack"
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SessionID    string `json:"session_id,omitempty"`
	LocationName string `json:"location_name,omitempty"`
}

// SessionStatus reports the caller's own session, sent on connect and on
// get_status.
type SessionStatus struct {
	Type          string `json:"type"` // "session_status"
	Active        bool   `json:"active"`
	SessionID     string `json:"session_id,omitempty"`
	LocationRefID string `json:"location_ref_id,omitempty"`
}

// AutoStopped tells a client its session ended without an explicit stop.
type AutoStopped struct {
	Type    string `json:"type"`   // "auto_stopped"
	Reason  string `json:"reason"` // "geofence_exit" or "timeout"
	Message string `json:"message"`
}

const (
	ReasonGeofenceExit = "geofence_exit"
	ReasonTimeout      = "timeout"
)

// CheckpointUpdate tells a carrier which checkpoint it is now nearest to.
type CheckpointUpdate struct {
	Type           string `json:"type"` // "checkpoint_update"
	CheckpointID   string `json:"checkpoint_id"`
	CheckpointName string `json:"checkpoint_name"`
}

// ErrorEvent reports a malformed or unauthorized event. The connection
// stays open.
type ErrorEvent struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func ack(success bool, message string) ActionAck {
	return ActionAck{Type: "action_ack", Success: success, Message: message}
}

func errEvent(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Message: message}
}

func autoStopped(reason, message string) AutoStopped {
	return AutoStopped{Type: "auto_stopped", Reason: reason, Message: message}
}
