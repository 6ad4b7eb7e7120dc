package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Role distinguishes the two client classes on a connection.
type Role string

const (
	RoleRequester Role = "requester"
	RoleCarrier   Role = "carrier"
)

func (r Role) Valid() bool { return r == RoleRequester || r == RoleCarrier }

// Zone is a geofenced pickup area. Reference data, immutable after load.
type Zone struct {
	ID          string  `json:"zone_id" yaml:"id"`
	Name        string  `json:"zone_name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description"`
	Polygon     []Coord `json:"-" yaml:"polygon"`
}

// Checkpoint is one ordered waypoint on the carrier route. Reference data.
type Checkpoint struct {
	ID            string  `json:"checkpoint_id" yaml:"id"`
	Name          string  `json:"checkpoint_name" yaml:"name"`
	Lat           float64 `json:"lat" yaml:"lat"`
	Lon           float64 `json:"lon" yaml:"lon"`
	SequenceOrder int     `json:"sequence_order" yaml:"sequence_order"`
}

type SessionState string

const (
	StateActive SessionState = "ACTIVE"
	StateEnded  SessionState = "ENDED"
)

// Session is the single mutable entity of the core: one pickup request or
// one ride, ACTIVE until stopped explicitly, on geofence exit, or on the
// ride duration ceiling. Ended sessions are immutable history.
type Session struct {
	ID                   string       `json:"session_id"`
	UserID               string       `json:"user_id"`
	Role                 Role         `json:"role"`
	State                SessionState `json:"state"`
	LocationRefID        string       `json:"location_ref_id"` // zone id or checkpoint id, by role
	StartedAt            time.Time    `json:"started_at"`
	EndedAt              time.Time    `json:"ended_at"`
	LastLocationUpdateAt time.Time    `json:"last_location_update_at"`
}

func (s *Session) Active() bool { return s != nil && s.State == StateActive }

// UserInfo is display reference data owned by the account subsystem.
// The core only reads it to decorate broadcast views.
type UserInfo struct {
	ID           string `json:"user_id"`
	Name         string `json:"name,omitempty"`
	Year         string `json:"year,omitempty"`
	Branch       string `json:"branch,omitempty"`
	Section      string `json:"section,omitempty"`
	VehicleRegNo string `json:"vehicle_reg_no,omitempty"`
}

// RequesterView is one active pickup request as shown in the snapshot.
type RequesterView struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Year      string    `json:"year,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Section   string    `json:"section,omitempty"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// CarrierView is one active ride as shown in the snapshot.
type CarrierView struct {
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
	VehicleRegNo string    `json:"vehicle_reg_no,omitempty"`
	SessionID    string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
}

// ZoneActivity groups active requesters under one zone. Present in every
// snapshot even when empty.
type ZoneActivity struct {
	ZoneID     string          `json:"zone_id"`
	ZoneName   string          `json:"zone_name"`
	Requesters []RequesterView `json:"requesters"`
}

// CheckpointActivity groups active carriers under one checkpoint, ordered
// by route sequence.
type CheckpointActivity struct {
	CheckpointID   string        `json:"checkpoint_id"`
	CheckpointName string        `json:"checkpoint_name"`
	SequenceOrder  int           `json:"sequence_order"`
	Carriers       []CarrierView `json:"carriers"`
}

// Snapshot is the full aggregated view broadcast to every connected client.
/// Replace semantics: receivers drop any previous snapshot entirely.
type Snapshot struct {
	ByZone       []ZoneActivity       `json:"by_zone"`
	ByCheckpoint []CheckpointActivity `json:"by_checkpoint"`
	GeneratedAt  time.Time            `json:"generated_at"`
}
