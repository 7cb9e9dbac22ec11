package engine

import (
	"math"
	"time"

	"github.com/google/uuid"

	"parkgate/internal/domain/gate"
)

// FeeSchedule computes parking charges. Billing is per started hour with a
// minimum charge.
type FeeSchedule struct {
	HourlyRate         float64
	MinimumChargeHours float64
}

func (f FeeSchedule) Fee(duration time.Duration) float64 {
	billed := math.Ceil(duration.Hours()) * f.HourlyRate
	minimum := f.MinimumChargeHours * f.HourlyRate
	return math.Max(minimum, billed)
}

// ledgerResult is what pairing one ToggleEvent did to the session table.
type ledgerResult struct {
	Session gate.Session
	// Orphaned holds the previously open session when a double ENTRY forced
	// it closed. That path is unreachable while the state machine holds its
	// alternation invariant; it exists as recovery, not as behavior.
	Orphaned *gate.Session
}

// applyToLedger pairs a promoted ToggleEvent with the identity's open
// session, if any.
func applyToLedger(open *gate.Session, ev gate.ToggleEvent, fees FeeSchedule) ledgerResult {
	if ev.Mode == gate.ToggleEntry {
		fresh := openSession(ev)
		if open == nil {
			return ledgerResult{Session: fresh}
		}
		orphaned := *open
		orphaned.Status = gate.SessionOrphaned
		return ledgerResult{Session: fresh, Orphaned: &orphaned}
	}

	if open == nil {
		// Engine restarted mid-session or the ENTRY predates tracking.
		// Recorded for manual reconciliation rather than rejected.
		exitAt := ev.CapturedAt
		return ledgerResult{Session: gate.Session{
			ID:             uuid.New(),
			IdentityID:     ev.IdentityID,
			Status:         gate.SessionCompleted,
			ExitRef:        &ev.ID,
			ExitedAt:       &exitAt,
			NeedsReconcile: true,
		}}
	}

	closed := *open
	exitAt := ev.CapturedAt
	duration := exitAt.Sub(*closed.EnteredAt)
	minutes := int(duration.Minutes())
	fee := fees.Fee(duration)

	closed.Status = gate.SessionCompleted
	closed.ExitRef = &ev.ID
	closed.ExitedAt = &exitAt
	closed.DurationMinutes = &minutes
	closed.Fee = &fee
	return ledgerResult{Session: closed}
}

func openSession(entry gate.ToggleEvent) gate.Session {
	enteredAt := entry.CapturedAt
	return gate.Session{
		ID:         uuid.New(),
		IdentityID: entry.IdentityID,
		Status:     gate.SessionOpen,
		EntryRef:   &entry.ID,
		EnteredAt:  &enteredAt,
	}
}
