package gate

import (
	"time"

	"github.com/google/uuid"
)

type ToggleMode string

const (
	ToggleEntry ToggleMode = "ENTRY"
	ToggleExit  ToggleMode = "EXIT"
)

type VehicleState string

const (
	StateOutside VehicleState = "OUTSIDE"
	StateInside  VehicleState = "INSIDE"
)

type SessionStatus string

const (
	SessionOpen      SessionStatus = "OPEN"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionOrphaned  SessionStatus = "ORPHANED"
)

// Outcome is what the engine decided for one raw observation. Every raw
// observation gets exactly one outcome and is persisted with it.
type Outcome string

const (
	OutcomePromoted  Outcome = "PROMOTED"  // produced a ToggleEvent
	OutcomeBuffered  Outcome = "BUFFERED"  // held in a pass window, lost to a better sibling
	OutcomeDuplicate Outcome = "DUPLICATE" // inside the cooldown window
	OutcomeLate      Outcome = "LATE"      // timestamp precedes last toggle
	OutcomeInvalid   Outcome = "INVALID"   // plate failed format validation
	OutcomeDropped   Outcome = "DROPPED"   // shed by a full ingest queue
)

type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type RawDetectionEvent struct {
	ID         uuid.UUID              `json:"event_id"`
	CameraID   string                 `json:"camera_id"`
	FrameID    string                 `json:"frame_id"`
	PlateText  string                 `json:"plate_text"`
	Confidence float64                `json:"confidence"`
	CapturedAt time.Time              `json:"captured_at"`
	BBox       BBox                   `json:"bbox"`
	ImageRef   string                 `json:"image_ref,omitempty"`
	RawPayload map[string]interface{} `json:"raw_payload,omitempty"`
}

type VehicleIdentity struct {
	ID             uuid.UUID    `json:"identity_id"`
	CanonicalPlate string       `json:"canonical_plate"`
	BestConfidence float64      `json:"best_confidence"`
	State          VehicleState `json:"state"`
	LastToggleAt   time.Time    `json:"last_toggle_at"`
	LastSeenAt     time.Time    `json:"last_seen_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

type ToggleEvent struct {
	ID         uuid.UUID  `json:"toggle_id"`
	IdentityID uuid.UUID  `json:"identity_id"`
	Mode       ToggleMode `json:"toggle_mode"`
	CapturedAt time.Time  `json:"captured_at"`
	RawRef     uuid.UUID  `json:"raw_ref"`
	Confidence float64    `json:"confidence"`
}

type Session struct {
	ID              uuid.UUID     `json:"session_id"`
	IdentityID      uuid.UUID     `json:"identity_id"`
	Status          SessionStatus `json:"status"`
	EntryRef        *uuid.UUID    `json:"entry_ref,omitempty"`
	ExitRef         *uuid.UUID    `json:"exit_ref,omitempty"`
	EnteredAt       *time.Time    `json:"entered_at,omitempty"`
	ExitedAt        *time.Time    `json:"exited_at,omitempty"`
	DurationMinutes *int          `json:"duration_minutes,omitempty"`
	Fee             *float64      `json:"fee,omitempty"`
	NeedsReconcile  bool          `json:"needs_reconcile,omitempty"`
}

// IngestAck is returned to the detection collaborator for each accepted
// observation. The outcome here is only what is known synchronously; the
// authoritative decision lands on the raw log row.
type IngestAck struct {
	EventID  uuid.UUID `json:"event_id"`
	Accepted bool      `json:"accepted"`
}

type IdentityStatus struct {
	IdentityID     uuid.UUID    `json:"identity_id"`
	CanonicalPlate string       `json:"canonical_plate"`
	State          VehicleState `json:"state"`
	LastToggleAt   *time.Time   `json:"last_toggle_at,omitempty"`
	LastSeenAt     time.Time    `json:"last_seen_at"`
}
