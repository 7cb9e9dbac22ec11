package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/domain/gate"
)

func testResolver(idents ...gate.VehicleIdentity) (*Resolver, *identityIndex) {
	idx := newIdentityIndex()
	for _, ident := range idents {
		idx.put(ident)
	}
	return NewResolver(idx, 0.80, 4, 24*time.Hour, zerolog.Nop()), idx
}

func ident(plate string, seenAt time.Time) gate.VehicleIdentity {
	return gate.VehicleIdentity{
		ID:             uuid.New(),
		CanonicalPlate: plate,
		State:          gate.StateOutside,
		LastSeenAt:     seenAt,
	}
}

func rawEvent(plateText string, at time.Time) gate.RawDetectionEvent {
	return gate.RawDetectionEvent{
		ID:         uuid.New(),
		CameraID:   "cam-1",
		FrameID:    "f-1",
		PlateText:  plateText,
		Confidence: 0.9,
		CapturedAt: at,
	}
}

func TestResolveRejectsUnparseablePlates(t *testing.T) {
	t.Parallel()

	r, _ := testResolver()
	now := time.Now()

	cases := []string{"", "AB", "12", "A1B"}
	for _, text := range cases {
		_, err := r.Resolve(rawEvent(text, now), now)
		if !errors.Is(err, gate.ErrValidation) {
			t.Errorf("Resolve(%q) err=%v, want ErrValidation", text, err)
		}
	}

	// A known format with few digits is still fine.
	if _, err := r.Resolve(rawEvent("BA12PAT", now), now); err != nil {
		t.Errorf("valid format rejected: %v", err)
	}
	// Enough digits carries an off-format read through.
	if _, err := r.Resolve(rawEvent("BA01PA1234", now), now); err != nil {
		t.Errorf("digit-rich partial rejected: %v", err)
	}
}

func TestResolveExactMatchShortCircuits(t *testing.T) {
	t.Parallel()

	now := time.Now()
	target := ident("BA1234", now.Add(-time.Hour))
	near := ident("BA1235", now.Add(-time.Minute)) // fresher, but not exact
	r, _ := testResolver(target, near)

	m, err := r.Resolve(rawEvent("ba 1234", now), now)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsNew || m.Identity.ID != target.ID {
		t.Fatalf("expected exact match to %s, got %+v", target.ID, m)
	}
	if m.Score != 1.0 {
		t.Fatalf("exact match score=%v want 1.0", m.Score)
	}
}

func TestResolveFuzzyMatch(t *testing.T) {
	t.Parallel()

	now := time.Now()
	entry := ident("BA01PA1234", now.Add(-5*time.Minute))
	r, _ := testResolver(entry)

	m, err := r.Resolve(rawEvent("BA01PA1284", now), now)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsNew || m.Identity.ID != entry.ID {
		t.Fatalf("expected fuzzy match, got %+v", m)
	}
	if m.Score < 0.80 {
		t.Fatalf("fuzzy match score=%v below threshold", m.Score)
	}
}

func TestResolveNeverMatchesBelowThreshold(t *testing.T) {
	t.Parallel()

	now := time.Now()
	far := ident("XX9999", now.Add(-time.Minute))
	r, _ := testResolver(far)

	m, err := r.Resolve(rawEvent("BA1234", now), now)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsNew {
		t.Fatalf("matched %s at score %v, want new identity", m.Identity.CanonicalPlate, m.Score)
	}
}

func TestResolveTieBreaksByRecency(t *testing.T) {
	t.Parallel()

	now := time.Now()
	stale := ident("BA1235", now.Add(-2*time.Hour))
	fresh := ident("BA1236", now.Add(-time.Minute))
	r, _ := testResolver(stale, fresh)

	// Equidistant from both candidates: one substitution each.
	m, err := r.Resolve(rawEvent("BA1237", now), now)
	if err != nil {
		t.Fatal(err)
	}
	if m.Identity.ID != fresh.ID {
		t.Fatalf("tie resolved to %s, want most-recently-seen %s", m.Identity.ID, fresh.ID)
	}
	if !m.Ambiguous {
		t.Fatal("tie at top score must be flagged ambiguous")
	}
}

func TestResolveIgnoresStaleIdentities(t *testing.T) {
	t.Parallel()

	now := time.Now()
	stale := ident("BA1234", now.Add(-48*time.Hour)) // beyond the 24h horizon
	r, _ := testResolver(stale)

	m, err := r.Resolve(rawEvent("BA1234", now), now)
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsNew {
		t.Fatal("identity beyond the recency horizon must not be revived")
	}
}
