package engine

import (
	"errors"
	"testing"
	"time"

	"parkgate/internal/domain/gate"
)

var cooldown = 2 * time.Minute

func TestToggleFirstObservationIsEntry(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	ident := ident("BA1234", t0)

	decision, mode, err := decideToggle(ident, t0, cooldown)
	if err != nil || decision != decidePromote || mode != gate.ToggleEntry {
		t.Fatalf("got decision=%v mode=%v err=%v, want ENTRY", decision, mode, err)
	}
}

func TestToggleAlternates(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	cur := ident("BA1234", t0)

	want := []gate.ToggleMode{gate.ToggleEntry, gate.ToggleExit, gate.ToggleEntry, gate.ToggleExit}
	at := t0
	for i, expected := range want {
		decision, mode, err := decideToggle(cur, at, cooldown)
		if err != nil || decision != decidePromote {
			t.Fatalf("step %d: decision=%v err=%v", i, decision, err)
		}
		if mode != expected {
			t.Fatalf("step %d: mode=%s want %s", i, mode, expected)
		}
		cur = applyToggle(cur, mode, at)
		at = at.Add(5 * time.Minute)
	}
}

func TestToggleCooldownDiscardsBothDirections(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	cur := ident("BA1234", t0)
	cur = applyToggle(cur, gate.ToggleEntry, t0)

	// 30 seconds after the ENTRY: same still-ongoing pass.
	decision, _, err := decideToggle(cur, t0.Add(30*time.Second), cooldown)
	if err != nil || decision != decideDuplicate {
		t.Fatalf("inside cooldown after ENTRY: decision=%v err=%v, want duplicate", decision, err)
	}

	// EXIT accepted at the cooldown boundary, then an immediate re-read.
	decision, mode, err := decideToggle(cur, t0.Add(cooldown), cooldown)
	if err != nil || decision != decidePromote || mode != gate.ToggleExit {
		t.Fatalf("at cooldown boundary: decision=%v mode=%v err=%v", decision, mode, err)
	}
	cur = applyToggle(cur, mode, t0.Add(cooldown))

	decision, _, err = decideToggle(cur, t0.Add(cooldown+45*time.Second), cooldown)
	if err != nil || decision != decideDuplicate {
		t.Fatalf("inside cooldown after EXIT: decision=%v err=%v, want duplicate", decision, err)
	}
}

func TestToggleRejectsLateEvents(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	cur := ident("BA1234", t0)
	cur = applyToggle(cur, gate.ToggleEntry, t0)

	decision, _, err := decideToggle(cur, t0.Add(-time.Minute), cooldown)
	if decision != decideLate {
		t.Fatalf("decision=%v, want late", decision)
	}
	if !errors.Is(err, gate.ErrLateEvent) {
		t.Fatalf("err=%v, want ErrLateEvent", err)
	}
	// Late events never mutate state: caller discards before applyToggle.
}

func TestToggleReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	cur := ident("BA1234", t0)
	cur = applyToggle(cur, gate.ToggleEntry, t0)

	// Exact replay of the promoting observation.
	decision, _, err := decideToggle(cur, t0, cooldown)
	if err != nil || decision != decideDuplicate {
		t.Fatalf("replay: decision=%v err=%v, want duplicate", decision, err)
	}
}
