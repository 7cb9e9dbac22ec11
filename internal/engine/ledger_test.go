package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"parkgate/internal/domain/gate"
)

var testFees = FeeSchedule{HourlyRate: 50, MinimumChargeHours: 1.0}

func toggleAt(identityID uuid.UUID, mode gate.ToggleMode, at time.Time) gate.ToggleEvent {
	return gate.ToggleEvent{
		ID:         uuid.New(),
		IdentityID: identityID,
		Mode:       mode,
		CapturedAt: at,
		RawRef:     uuid.New(),
		Confidence: 0.9,
	}
}

func TestFeeSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		duration time.Duration
		want     float64
	}{
		{90 * time.Minute, 100}, // ceil(1.5h) * 50
		{5 * time.Minute, 50},   // under an hour still bills the minimum
		{60 * time.Minute, 50},
		{61 * time.Minute, 100},
		{24 * time.Hour, 1200},
	}
	for _, c := range cases {
		if got := testFees.Fee(c.duration); got != c.want {
			t.Errorf("Fee(%v)=%v want %v", c.duration, got, c.want)
		}
	}
}

func TestLedgerOpensOnEntry(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	entry := toggleAt(id, gate.ToggleEntry, time.Now())

	res := applyToLedger(nil, entry, testFees)
	s := res.Session
	if s.Status != gate.SessionOpen || s.EntryRef == nil || *s.EntryRef != entry.ID {
		t.Fatalf("unexpected session %+v", s)
	}
	if res.Orphaned != nil {
		t.Fatal("no session should be orphaned on a clean ENTRY")
	}
}

func TestLedgerClosesOnExit(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	t0 := time.Now()
	entry := toggleAt(id, gate.ToggleEntry, t0)
	open := openSession(entry)

	exit := toggleAt(id, gate.ToggleExit, t0.Add(90*time.Minute))
	res := applyToLedger(&open, exit, testFees)
	s := res.Session

	if s.Status != gate.SessionCompleted {
		t.Fatalf("status=%s want COMPLETED", s.Status)
	}
	if s.DurationMinutes == nil || *s.DurationMinutes != 90 {
		t.Fatalf("duration=%v want 90", s.DurationMinutes)
	}
	if s.Fee == nil || *s.Fee != 100 {
		t.Fatalf("fee=%v want 100", s.Fee)
	}
	if s.ExitRef == nil || *s.ExitRef != exit.ID {
		t.Fatal("exit_ref not recorded")
	}
	if s.NeedsReconcile {
		t.Fatal("paired session must not be flagged for reconciliation")
	}
}

func TestLedgerDoubleEntryOrphansPrevious(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	t0 := time.Now()
	open := openSession(toggleAt(id, gate.ToggleEntry, t0))

	res := applyToLedger(&open, toggleAt(id, gate.ToggleEntry, t0.Add(time.Hour)), testFees)
	if res.Orphaned == nil || res.Orphaned.ID != open.ID || res.Orphaned.Status != gate.SessionOrphaned {
		t.Fatalf("previous session not orphaned: %+v", res.Orphaned)
	}
	if res.Session.Status != gate.SessionOpen {
		t.Fatalf("new session status=%s want OPEN", res.Session.Status)
	}
}

func TestLedgerExitWithoutOpenSessionReconciles(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	exit := toggleAt(id, gate.ToggleExit, time.Now())

	res := applyToLedger(nil, exit, testFees)
	s := res.Session
	if s.Status != gate.SessionCompleted {
		t.Fatalf("status=%s want COMPLETED", s.Status)
	}
	if s.EntryRef != nil {
		t.Fatal("entry_ref must stay empty when no ENTRY was tracked")
	}
	if !s.NeedsReconcile {
		t.Fatal("unmatched EXIT must be flagged for manual reconciliation")
	}
}
