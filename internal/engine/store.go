package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"parkgate/internal/domain/gate"
)

// RawRecord is one raw observation together with the engine's decision for
// it. Raw observations are persisted verbatim no matter what was decided.
type RawRecord struct {
	Event      gate.RawDetectionEvent `json:"event"`
	Outcome    gate.Outcome           `json:"outcome"`
	IdentityID *uuid.UUID             `json:"identity_id,omitempty"`
	Similarity *float64               `json:"similarity,omitempty"`
	Ambiguous  bool                   `json:"ambiguous,omitempty"`
	Note       string                 `json:"note,omitempty"`
}

// Transition is the atomic unit of persistence for one confirmed toggle:
// the promoting raw record, the ToggleEvent, the post-transition identity
// snapshot and the session change, committed together.
type Transition struct {
	Raw      RawRecord            `json:"raw"`
	Toggle   gate.ToggleEvent     `json:"toggle"`
	Identity gate.VehicleIdentity `json:"identity"`
	Session  gate.Session         `json:"session"`
	// Orphaned is set when a double ENTRY forced the previous open session
	// closed (defensive recovery).
	Orphaned *gate.Session `json:"orphaned,omitempty"`
}

// Store is the narrow persistence contract the engine drives. The engine
// never assumes anything about storage internals beyond these operations.
type Store interface {
	// AppendRaw records an observation that did not produce a toggle.
	AppendRaw(ctx context.Context, rec RawRecord) error

	// CommitTransition persists one transition as a single atomic unit.
	CommitTransition(ctx context.Context, tr Transition) error

	// UpsertIdentity persists identity metadata changes that happen outside
	// a transition (creation, canonical text revision, last-seen bumps).
	UpsertIdentity(ctx context.Context, id gate.VehicleIdentity) error

	// OpenSession returns the identity's OPEN session, if any.
	OpenSession(ctx context.Context, identityID uuid.UUID) (*gate.Session, error)

	// MarkSessionOrphaned flips one session to ORPHANED.
	MarkSessionOrphaned(ctx context.Context, sessionID uuid.UUID) error

	// SweepOrphans marks every session opened before the cutoff as
	// ORPHANED and returns how many were flipped.
	SweepOrphans(ctx context.Context, openedBefore time.Time) (int64, error)

	// RecentIdentities loads identities seen since the cutoff, used to warm
	// the candidate index on startup.
	RecentIdentities(ctx context.Context, seenSince time.Time) ([]gate.VehicleIdentity, error)
}
