package engine

import (
	"fmt"
	"time"

	"parkgate/internal/domain/gate"
)

// toggleDecision is the state machine's verdict for one finalized
// observation.
type toggleDecision int

const (
	decidePromote toggleDecision = iota
	decideDuplicate
	decideLate
)

// decideToggle is the sole authority on toggle_mode. It applies the
// OUTSIDE/INSIDE alternation with a symmetric cooldown on both directions
// and rejects observations older than the identity's last toggle. It must
// only be called with events for one identity in serialized order.
func decideToggle(ident gate.VehicleIdentity, at time.Time, cooldown time.Duration) (toggleDecision, gate.ToggleMode, error) {
	if !ident.LastToggleAt.IsZero() {
		if at.Before(ident.LastToggleAt) {
			return decideLate, "", fmt.Errorf("%w: %s before last toggle %s",
				gate.ErrLateEvent, at.Format(time.RFC3339), ident.LastToggleAt.Format(time.RFC3339))
		}
		if at.Sub(ident.LastToggleAt) < cooldown {
			return decideDuplicate, "", nil
		}
	}

	switch ident.State {
	case gate.StateInside:
		return decidePromote, gate.ToggleExit, nil
	default:
		return decidePromote, gate.ToggleEntry, nil
	}
}

// applyToggle returns the identity as it stands after the promoted toggle.
func applyToggle(ident gate.VehicleIdentity, mode gate.ToggleMode, at time.Time) gate.VehicleIdentity {
	if mode == gate.ToggleEntry {
		ident.State = gate.StateInside
	} else {
		ident.State = gate.StateOutside
	}
	ident.LastToggleAt = at
	if at.After(ident.LastSeenAt) {
		ident.LastSeenAt = at
	}
	return ident
}
